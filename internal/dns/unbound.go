package dns

import (
	"context"
	"os/exec"
	"time"

	"resolvd/internal/config"
)

const dnssecTriggerScript = "/usr/libexec/dnssec-trigger-script"

// unboundPlugin integrates the dnssec-trigger frontend to unbound. The
// trigger daemon owns the unbound process, so there is no child to
// supervise here; each update just pokes the trigger script.
type unboundPlugin struct {
	script  string
	timeout time.Duration
	events  chan PluginEvent
}

func newUnboundPlugin(timeout time.Duration) *unboundPlugin {
	return &unboundPlugin{
		script:  dnssecTriggerScript,
		timeout: timeout,
		events:  make(chan PluginEvent, 1),
	}
}

func (p *unboundPlugin) Name() string    { return "unbound" }
func (p *unboundPlugin) IsCaching() bool { return true }

func (p *unboundPlugin) Events() <-chan PluginEvent { return p.events }

func (p *unboundPlugin) Update(vpn, device, other []*Source, global *config.GlobalDNS, hostname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	return runHelper(ctx, "dnssec-trigger-script", p.timeout,
		exec.CommandContext(ctx, p.script, "--async", "--update"))
}

func (p *unboundPlugin) Stop() {}
