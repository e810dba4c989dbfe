package dns

import (
	"time"

	"resolvd/internal/config"
)

// Rate limiting for caching plugin child restarts: within a rolling
// 30 second window up to 5 respawns happen immediately; beyond that a
// single retry is scheduled 300 seconds out instead of a respawn storm.
const (
	pluginRestartWindow = 30 * time.Second
	pluginRestartBurst  = 5
	pluginRestartDelay  = 300 * time.Second
)

// PluginEventType identifies what happened inside a plugin.
type PluginEventType int

const (
	// EventChildQuit reports that the plugin's child process exited
	// unexpectedly.
	EventChildQuit PluginEventType = iota
	// EventFailed reports a fatal runtime failure inside the plugin
	// that is not a child exit.
	EventFailed
)

// PluginEvent is delivered on a plugin's event channel. Events for one
// plugin arrive in the order they occurred.
type PluginEvent struct {
	Type       PluginEventType
	ExitStatus int
}

// Plugin integrates an external caching resolver. Update receives the
// categorized, unmerged per-source lists so a plugin can offer split
// DNS; it is called before the persistence backend writes. A caching
// plugin that updates successfully causes the resolver file to carry
// only the loopback address.
type Plugin interface {
	Name() string
	IsCaching() bool
	Update(vpn, device, other []*Source, global *config.GlobalDNS, hostname string) error
	Events() <-chan PluginEvent
	Stop()
}

// restartLimiter bounds how quickly a plugin child may be respawned.
// Child death timestamps inside the rolling window are kept; once they
// exceed the burst the caller must defer instead of respawning.
type restartLimiter struct {
	window time.Duration
	burst  int
	deaths []time.Time
	now    func() time.Time
}

func newRestartLimiter(window time.Duration, burst int) *restartLimiter {
	return &restartLimiter{window: window, burst: burst, now: time.Now}
}

// allow records one child death and reports whether an immediate
// respawn is still within budget.
func (l *restartLimiter) allow() bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.deaths[:0]
	for _, t := range l.deaths {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.deaths = append(kept, now)

	return len(l.deaths) <= l.burst
}

func (l *restartLimiter) reset() {
	l.deaths = l.deaths[:0]
}
