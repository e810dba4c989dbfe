package dns

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"resolvd/internal/config"
)

const (
	dnsmasqListenAddr = "127.0.0.1"
	dnsmasqCacheSize  = 400
)

// dnsmasqPlugin runs a dnsmasq child as the local caching resolver.
// Upstream servers are handed to it through a generated config file;
// VPN-contributed domains become split-DNS server entries so tunnel
// names resolve through the tunnel. The child is watched and its
// unexpected death is reported on the event channel.
type dnsmasqPlugin struct {
	binPath string
	runDir  string
	events  chan PluginEvent

	mu       sync.Mutex
	cmd      *exec.Cmd
	waitDone chan struct{}
	lastConf string
	stopping bool
}

func newDnsmasqPlugin(binPath, runDir string) *dnsmasqPlugin {
	return &dnsmasqPlugin{
		binPath: binPath,
		runDir:  runDir,
		events:  make(chan PluginEvent, 16),
	}
}

func (p *dnsmasqPlugin) Name() string    { return "dnsmasq" }
func (p *dnsmasqPlugin) IsCaching() bool { return true }

func (p *dnsmasqPlugin) Events() <-chan PluginEvent { return p.events }

func (p *dnsmasqPlugin) confPath() string { return filepath.Join(p.runDir, "dnsmasq.conf") }
func (p *dnsmasqPlugin) pidPath() string  { return filepath.Join(p.runDir, "dnsmasq.pid") }

// renderConf builds the dnsmasq server configuration. The raw
// per-source lists are used instead of the merged result so VPN
// domains can be routed to VPN nameservers specifically.
func renderConf(vpn, device, other []*Source, global *config.GlobalDNS) string {
	var b strings.Builder
	b.WriteString("# Generated by " + serviceName + "\n")

	if global != nil {
		for _, ns := range global.Nameservers {
			fmt.Fprintf(&b, "server=%s\n", ns)
		}
		return b.String()
	}

	for _, src := range vpn {
		domains := append(append([]string{}, src.Searches...), src.Domains...)
		for _, a := range src.Nameservers {
			ns := renderNameserver(a, src.Iface)
			if len(domains) == 0 {
				// Full-tunnel VPN: route everything through it.
				fmt.Fprintf(&b, "server=%s\n", ns)
				continue
			}
			for _, d := range domains {
				fmt.Fprintf(&b, "server=/%s/%s\n", d, ns)
			}
		}
	}
	for _, src := range append(append([]*Source{}, device...), other...) {
		for _, a := range src.Nameservers {
			fmt.Fprintf(&b, "server=%s\n", renderNameserver(a, src.Iface))
		}
	}
	return b.String()
}

func (p *dnsmasqPlugin) Update(vpn, device, other []*Source, global *config.GlobalDNS, hostname string) error {
	conf := renderConf(vpn, device, other, global)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && conf == p.lastConf {
		return nil
	}

	if err := os.MkdirAll(p.runDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", p.runDir, err)
	}
	if err := atomicWrite(p.confPath(), conf); err != nil {
		return err
	}
	p.lastConf = conf

	// dnsmasq re-reads its config only on restart.
	p.stopChildLocked()
	if err := p.spawnLocked(); err != nil {
		return err
	}
	if err := p.probe(); err != nil {
		return fmt.Errorf("dnsmasq not answering: %w", err)
	}
	return nil
}

func (p *dnsmasqPlugin) spawnLocked() error {
	cmd := exec.Command(p.binPath,
		"--keep-in-foreground",
		"--no-resolv",
		"--no-hosts",
		"--bind-interfaces",
		"--listen-address="+dnsmasqListenAddr,
		fmt.Sprintf("--cache-size=%d", dnsmasqCacheSize),
		"--conf-file="+p.confPath(),
		"--pid-file="+p.pidPath(),
		"--proxy-dnssec",
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", p.binPath, err)
	}
	logrus.WithFields(logrus.Fields{
		"pid":  cmd.Process.Pid,
		"conf": p.confPath(),
	}).Info("started dnsmasq")

	p.cmd = cmd
	p.waitDone = make(chan struct{})
	go p.watch(cmd, p.waitDone)
	return nil
}

// watch reports the child's exit unless it was requested by Stop or a
// config-driven restart. done is closed before any locking so that
// stopChildLocked can wait on it while holding the mutex.
func (p *dnsmasqPlugin) watch(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	p.mu.Lock()
	unexpected := !p.stopping && p.cmd == cmd
	if p.cmd == cmd {
		p.cmd = nil
	}
	p.mu.Unlock()

	if !unexpected {
		return
	}

	status := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			status = ee.ExitCode()
		}
	}
	select {
	case p.events <- PluginEvent{Type: EventChildQuit, ExitStatus: status}:
	default:
		logrus.Warn("dnsmasq event channel full, dropping child-quit event")
	}
}

// stopChildLocked terminates the current child and waits for it to go
// away so a replacement can bind the listen address.
func (p *dnsmasqPlugin) stopChildLocked() {
	if p.cmd == nil {
		return
	}
	cmd := p.cmd
	done := p.waitDone
	p.cmd = nil // watch() sees the swap and stays quiet

	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cmd.Process.Kill()
		<-done
	}
}

// probe verifies the child actually serves queries before resolution
// is pointed at it. A freshly spawned dnsmasq needs a beat to bind.
func (p *dnsmasqPlugin) probe() error {
	c := new(dns.Client)
	c.Timeout = time.Second

	m := new(dns.Msg)
	m.SetQuestion("localhost.", dns.TypeA)

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		if _, _, err = c.Exchange(m, dnsmasqListenAddr+":53"); err == nil {
			return nil
		}
	}
	return err
}

func (p *dnsmasqPlugin) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopping = true
	p.stopChildLocked()
	os.Remove(p.pidPath())
}
