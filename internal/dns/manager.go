package dns

import (
	"crypto/sha1"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"resolvd/internal/audit"
	"resolvd/internal/config"
)

// Manager aggregates the DNS facts contributed by interfaces, VPN
// tunnels and the hostname owner, and keeps the system resolver
// configuration in sync with them. It is constructed once at startup
// and threaded through its owners; there is no package-level instance.
//
// Mutations commit immediately unless wrapped in BeginUpdates /
// EndUpdates, which batch a burst of changes into at most one commit.
type Manager struct {
	mu sync.Mutex

	cfg *config.Config

	ip4VPN    []*Source
	ip6VPN    []*Source
	ip4Device *Source
	ip6Device *Source
	// configs holds every attached non-VPN source, the best-device
	// ones included.
	configs []*Source

	hostname string

	updatesQueue int
	hash         [sha1.Size]byte
	prevHash     [sha1.Size]byte

	rcMgr   rcManager
	backend Backend
	writer  *resolvConfWriter

	plugin     Plugin
	pluginStop chan struct{}
	limiter    *restartLimiter
	retryTimer *time.Timer

	dnsTouched bool
	committed  chan struct{}

	journal *audit.Journal
}

// New creates a resolver configuration manager from cfg. No commit
// happens until the first mutation arrives.
func New(cfg *config.Config) *Manager {
	m := &Manager{
		cfg:       cfg,
		limiter:   newRestartLimiter(pluginRestartWindow, pluginRestartBurst),
		committed: make(chan struct{}, 1),
	}
	journal, err := audit.Open(filepath.Join(cfg.DNS.RunDir, "journal"))
	if err != nil {
		logrus.WithError(err).Warn("commit journal unavailable")
	}
	m.journal = journal
	m.hash = m.computeFingerprintLocked(nil)
	m.initResolvConfModeLocked()
	return m
}

// Committed delivers a notification after each successful write of the
// system resolver configuration. The channel holds one pending
// notification; observers that lag merely coalesce signals.
func (m *Manager) Committed() <-chan struct{} {
	return m.committed
}

// AddSource attaches a DNS fact source under the given role. Attaching
// an already-attached source is a no-op (the role still applies). A
// new best-device source demotes the previous holder for that family
// to a default source but leaves it attached.
func (m *Manager) AddSource(iface string, src *Source, role Role) bool {
	if src == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src.Iface = iface

	switch role {
	case RoleVPN:
		switch src.Family {
		case FamilyIPv4:
			if !containsSource(m.ip4VPN, src) {
				m.ip4VPN = append(m.ip4VPN, src)
			}
		case FamilyIPv6:
			if !containsSource(m.ip6VPN, src) {
				m.ip6VPN = append(m.ip6VPN, src)
			}
		default:
			return false
		}
	case RoleBestDevice:
		switch src.Family {
		case FamilyIPv4:
			m.ip4Device = src
		case FamilyIPv6:
			m.ip6Device = src
		default:
			return false
		}
		fallthrough
	case RoleDefault:
		if !containsSource(m.configs, src) {
			m.configs = append(m.configs, src)
		}
	default:
		return false
	}

	logrus.WithFields(logrus.Fields{
		"iface":  iface,
		"family": src.Family,
		"role":   role,
	}).Debug("attached DNS source")

	m.maybeCommitLocked()
	return true
}

// RemoveSource detaches a previously attached source. Detaching an
// unattached source reports false without being an error.
func (m *Manager) RemoveSource(src *Source) bool {
	if src == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case containsSource(m.configs, src):
		m.configs = removeSource(m.configs, src)
		if src == m.ip4Device {
			m.ip4Device = nil
		}
		if src == m.ip6Device {
			m.ip6Device = nil
		}
	case containsSource(m.ip4VPN, src):
		m.ip4VPN = removeSource(m.ip4VPN, src)
	case containsSource(m.ip6VPN, src):
		m.ip6VPN = removeSource(m.ip6VPN, src)
	default:
		return false
	}

	src.Iface = ""
	m.maybeCommitLocked()
	return true
}

// SetInitialHostname records the hostname known at startup without
// triggering a commit.
func (m *Manager) SetInitialHostname(hostname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostname = hostname
}

// SetHostname tracks the system hostname for search-domain derivation.
// Auto-generated, reverse-DNS and undotted names are filtered out.
func (m *Manager) SetHostname(hostname string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := filterHostname(hostname)
	if m.hostname == filtered {
		return
	}
	m.hostname = filtered
	m.maybeCommitLocked()
}

func filterHostname(hostname string) string {
	switch hostname {
	case "", "(none)", "localhost", "localhost6",
		"localhost.localdomain", "localhost6.localdomain6":
		return ""
	}
	if strings.Contains(hostname, ".in-addr.arpa") {
		return ""
	}
	if !strings.Contains(hostname, ".") {
		return ""
	}
	return hostname
}

// BeginUpdates opens (or nests into) an update batch. The fingerprint
// at the outermost begin is remembered so a batch that changes nothing
// commits nothing. caller is only used for logging.
func (m *Manager) BeginUpdates(caller string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updatesQueue == 0 {
		m.prevHash = m.hash
	}
	m.updatesQueue++

	logrus.WithFields(logrus.Fields{
		"caller": caller,
		"depth":  m.updatesQueue,
	}).Debug("queueing DNS updates")
}

// EndUpdates closes one nesting level. Only the outermost end commits,
// and only when the configuration fingerprint moved since the
// outermost begin. An EndUpdates without a matching BeginUpdates is a
// programming error and is reported, not honored.
func (m *Manager) EndUpdates(caller string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updatesQueue == 0 {
		logrus.WithField("caller", caller).Error("unbalanced end of DNS update batch")
		return
	}

	newHash := m.computeFingerprintLocked(m.cfg.DNS.Global)
	changed := newHash != m.prevHash

	m.updatesQueue--
	if m.updatesQueue > 0 || !changed {
		logrus.WithFields(logrus.Fields{
			"caller":  caller,
			"depth":   m.updatesQueue,
			"changed": changed,
		}).Debug("no DNS changes to commit")
		return
	}

	logrus.WithField("caller", caller).Debug("committing batched DNS changes")
	if err := m.updateDNSLocked(false); err != nil {
		logrus.WithError(err).Warn("could not commit DNS changes")
	}
	m.prevHash = [sha1.Size]byte{}
}

// ResolvConfExplicit reports whether the resolver file carries exactly
// the configuration handed to this manager: false when the file is
// unmanaged or immutable, or when a caching plugin rewrites the
// nameserver list.
func (m *Manager) ResolvConfExplicit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rcMgr == rcManagerUnmanaged || m.rcMgr == rcManagerImmutable || m.plugin != nil {
		return false
	}
	return true
}

// Status reports the active resolver file strategy and the name of the
// caching plugin, if any.
func (m *Manager) Status() (rcMgr, plugin string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plugin != nil {
		plugin = m.plugin.Name()
	}
	return m.rcMgr.String(), plugin
}

// Reload applies a changed configuration: the backend strategy and the
// caching plugin are re-evaluated, then a commit runs.
func (m *Manager) Reload(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	m.initResolvConfModeLocked()
	if err := m.updateDNSLocked(false); err != nil {
		logrus.WithError(err).Warn("could not commit DNS changes")
	}
}

// Stop tears the manager down. If DNS was ever touched, a final commit
// with caching disabled leaves a resolver file behind that does not
// point at a dead local resolver.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearPluginLocked()

	if m.dnsTouched {
		if err := m.updateDNSLocked(true); err != nil {
			logrus.WithError(err).Warn("could not commit DNS changes on shutdown")
		}
		m.dnsTouched = false
	}

	m.journal.Close()
	m.journal = nil
}

func (m *Manager) maybeCommitLocked() {
	if m.updatesQueue > 0 {
		return
	}
	if err := m.updateDNSLocked(false); err != nil {
		logrus.WithError(err).Warn("could not commit DNS changes")
	}
}

// computeFingerprintLocked digests the ordered contents of all active
// sources plus the global override. Two states with equal fingerprints
// produce byte-identical resolver configuration.
func (m *Manager) computeFingerprintLocked(global *config.GlobalDNS) [sha1.Size]byte {
	h := sha1.New()

	if global != nil {
		for _, s := range global.Searches {
			h.Write([]byte("gsea=" + s + ";"))
		}
		for _, o := range global.Options {
			h.Write([]byte("gopt=" + o + ";"))
		}
		for _, ns := range global.Nameservers {
			h.Write([]byte("gns=" + ns + ";"))
		}
	}

	for _, s := range m.ip4VPN {
		s.hashInto(h)
	}
	if m.ip4Device != nil {
		m.ip4Device.hashInto(h)
	}
	for _, s := range m.ip6VPN {
		s.hashInto(h)
	}
	if m.ip6Device != nil {
		m.ip6Device.hashInto(h)
	}
	for _, s := range m.configs {
		if s == m.ip4Device || s == m.ip6Device {
			continue
		}
		s.hashInto(h)
	}

	var out [sha1.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// pluginConfigListsLocked categorizes the raw sources for a plugin:
// VPN sources, best-device sources, everything else. Plugins get the
// unmerged lists so they can offer split DNS per source.
func (m *Manager) pluginConfigListsLocked() (vpn, device, other []*Source) {
	vpn = append(vpn, m.ip4VPN...)
	vpn = append(vpn, m.ip6VPN...)
	if m.ip4Device != nil {
		device = append(device, m.ip4Device)
	}
	if m.ip6Device != nil {
		device = append(device, m.ip6Device)
	}
	for _, s := range m.configs {
		if s != m.ip4Device && s != m.ip6Device {
			other = append(other, s)
		}
	}
	return vpn, device, other
}

// updateDNSLocked runs one full commit: merge, plugin update, caching
// substitution, backend write, best-effort private copy. Plugin update
// always precedes the persistence write so the loopback substitution
// can take effect.
func (m *Manager) updateDNSLocked(noCaching bool) error {
	m.clearRetryTimerLocked()

	update := true
	switch m.rcMgr {
	case rcManagerUnmanaged, rcManagerImmutable:
		update = false
		logrus.Debug("update-dns: not updating resolver file")
	default:
		m.dnsTouched = true
		logrus.Debug("update-dns: updating resolver file")
	}

	global := m.cfg.DNS.Global
	m.hash = m.computeFingerprintLocked(global)

	var rc resolvConfData
	if global != nil {
		rc.mergeGlobal(global)
	} else {
		for _, s := range m.ip4VPN {
			rc.mergeSource(s)
		}
		if m.ip4Device != nil {
			rc.mergeSource(m.ip4Device)
		}
		for _, s := range m.ip6VPN {
			rc.mergeSource(s)
		}
		if m.ip6Device != nil {
			rc.mergeSource(m.ip6Device)
		}
		for _, s := range m.configs {
			if s == m.ip4Device || s == m.ip6Device {
				continue
			}
			rc.mergeSource(s)
		}
	}

	rc.mergeHostname(m.hostname)
	rc.capSearches()

	nameservers := rc.nameservers

	// Let the plugin do its thing before anything hits disk.
	caching := false
	if plugin := m.plugin; plugin != nil {
		skip := false
		if plugin.IsCaching() {
			if noCaching {
				logrus.WithField("plugin", plugin.Name()).
					Debug("update-dns: plugin ignored (caching disabled)")
				skip = true
			} else {
				caching = true
			}
		}
		if !skip {
			var vpn, device, other []*Source
			if global == nil {
				vpn, device, other = m.pluginConfigListsLocked()
			}
			logrus.WithField("plugin", plugin.Name()).Debug("update-dns: updating plugin")
			if err := plugin.Update(vpn, device, other, global, m.hostname); err != nil {
				logrus.WithError(err).WithField("plugin", plugin.Name()).
					Warn("update-dns: plugin update failed")
				// A failed caching plugin must not end up as the only
				// nameserver; fall back to the upstream servers for
				// this commit.
				caching = false
			}
		}
	}

	// With a healthy caching plugin only the loopback address is
	// written, so the resolver library never round-robins past the
	// local cache.
	if caching {
		nameservers = []string{"127.0.0.1"}
	}

	var result error
	privateDone := false
	if update {
		switch m.rcMgr {
		case rcManagerSymlink, rcManagerFile:
			privateDone = true
		}
		backendName := m.backend.Name()
		err := m.backend.Apply(rc.searches, nameservers, rc.options, rc.nisDomain, rc.nisServers)
		if errors.Is(err, ErrBackendUnavailable) {
			logrus.WithField("backend", m.backend.Name()).
				Debug("update-dns: helper not available, writing resolver file")
			err = (&symlinkBackend{w: m.writer}).Apply(
				rc.searches, nameservers, rc.options, rc.nisDomain, rc.nisServers)
			backendName = "symlink"
			privateDone = true
		}
		result = err
		m.journal.RecordCommit(backendName, rc.searches, nameservers, result)
	}

	// The private runtime copy is refreshed even when the system path
	// is left alone or its write failed; its errors are logged only.
	if !privateDone {
		content := createResolvConf(rc.searches, nameservers, rc.options)
		if err := m.writer.applyPrivateOnly(content); err != nil {
			logrus.WithError(err).Debug("update-dns: could not write private resolver copy")
		}
	}

	if update && result == nil {
		select {
		case m.committed <- struct{}{}:
		default:
		}
	}

	if !update {
		return nil
	}
	return result
}

// watchPlugin consumes one plugin's event channel until the plugin is
// replaced or the manager stops.
func (m *Manager) watchPlugin(p Plugin, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-p.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case EventChildQuit:
				m.handleChildQuit(p, ev.ExitStatus)
			case EventFailed:
				m.handlePluginFailed(p)
			}
		}
	}
}

// handlePluginFailed reacts to a fatal runtime failure of the plugin:
// caching is disabled for one immediate re-commit so the resolver file
// stops pointing at a broken cache. The plugin itself stays installed.
func (m *Manager) handlePluginFailed(p Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plugin != p {
		return
	}
	// Failures of non-caching plugins leave the written config valid.
	if !p.IsCaching() {
		return
	}
	if err := m.updateDNSLocked(true); err != nil {
		logrus.WithError(err).Warn("could not commit DNS changes")
	}
}

// handleChildQuit reacts to the plugin's child dying: normally an
// immediate re-commit lets the plugin respawn it, but a respawn storm
// is converted into a single delayed retry.
func (m *Manager) handleChildQuit(p Plugin, exitStatus int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plugin != p {
		return
	}

	logrus.WithFields(logrus.Fields{
		"plugin": p.Name(),
		"status": exitStatus,
	}).Warn("plugin child quit unexpectedly")

	if !m.limiter.allow() {
		logrus.WithFields(logrus.Fields{
			"plugin": p.Name(),
			"delay":  pluginRestartDelay,
		}).Warn("plugin child respawning too fast, delaying retry")
		if m.retryTimer == nil {
			m.retryTimer = time.AfterFunc(pluginRestartDelay, m.retryCommit)
		}
		return
	}

	if err := m.updateDNSLocked(false); err != nil {
		logrus.WithError(err).Warn("could not commit DNS changes")
	}
}

// retryCommit runs the delayed commit scheduled by the restart rate
// limiter.
func (m *Manager) retryCommit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryTimer = nil
	if err := m.updateDNSLocked(false); err != nil {
		logrus.WithError(err).Warn("could not commit DNS changes")
	}
}

func (m *Manager) clearRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) clearPluginLocked() bool {
	if m.plugin == nil {
		return false
	}
	if m.pluginStop != nil {
		close(m.pluginStop)
		m.pluginStop = nil
	}
	m.journal.Record(audit.EventPluginStop, "caching plugin stopped",
		map[string]interface{}{"plugin": m.plugin.Name()})
	m.plugin.Stop()
	m.plugin = nil
	m.limiter.reset()
	m.clearRetryTimerLocked()
	return true
}

// initResolvConfModeLocked re-evaluates the resolver file strategy and
// the caching plugin from the current configuration. Called at
// construction and on every reload, since the strategy also depends on
// the resolver file's immutability attribute.
func (m *Manager) initResolvConfModeLocked() {
	dnsCfg := &m.cfg.DNS

	var rcMgr rcManager
	mode := dnsCfg.Mode
	switch {
	case mode == "none":
		rcMgr = rcManagerUnmanaged
	case resolvConfImmutable(dnsCfg.ResolvConfPath):
		rcMgr = rcManagerImmutable
	default:
		rcMgr = rcManagerFromName(dnsCfg.RcManager)
		if rcMgr == rcManagerUnknown {
			if dnsCfg.RcManager != "" {
				logrus.WithField("rcManager", dnsCfg.RcManager).
					Warn("init: unknown resolv.conf manager, using platform default")
			}
			rcMgr = defaultRcManager()
		}
	}

	pluginChanged := false
	switch mode {
	case "dnsmasq":
		if _, ok := m.plugin.(*dnsmasqPlugin); !ok {
			m.clearPluginLocked()
			m.plugin = newDnsmasqPlugin(dnsCfg.DnsmasqPath, dnsCfg.RunDir)
			pluginChanged = true
		}
	case "unbound":
		if _, ok := m.plugin.(*unboundPlugin); !ok {
			m.clearPluginLocked()
			m.plugin = newUnboundPlugin(dnsCfg.HelperTimeout)
			pluginChanged = true
		}
	default:
		if m.clearPluginLocked() {
			pluginChanged = true
		}
	}

	if pluginChanged && m.plugin != nil {
		stop := make(chan struct{})
		m.pluginStop = stop
		go m.watchPlugin(m.plugin, stop)
		m.journal.Record(audit.EventPluginStart, "caching plugin selected",
			map[string]interface{}{"plugin": m.plugin.Name()})
	}

	m.writer = newResolvConfWriter(dnsCfg.ResolvConfPath, dnsCfg.RunDir)
	m.backend = m.newBackendLocked(rcMgr)

	if pluginChanged || m.rcMgr != rcMgr {
		m.rcMgr = rcMgr
		fields := logrus.Fields{
			"mode":      mode,
			"rcManager": rcMgr.String(),
		}
		if m.plugin != nil {
			fields["plugin"] = m.plugin.Name()
		}
		logrus.WithFields(fields).Info("init: resolver configuration mode")
	}
}

func (m *Manager) newBackendLocked(rcMgr rcManager) Backend {
	dnsCfg := &m.cfg.DNS
	switch rcMgr {
	case rcManagerFile:
		return &fileBackend{w: m.writer}
	case rcManagerResolvconf:
		return &resolvconfBackend{path: dnsCfg.ResolvconfPath, timeout: dnsCfg.HelperTimeout}
	case rcManagerNetconfig:
		return &netconfigBackend{path: dnsCfg.NetconfigPath, timeout: dnsCfg.HelperTimeout}
	default:
		// Unmanaged and immutable never call the backend; symlink is
		// the default for everything else.
		return &symlinkBackend{w: m.writer}
	}
}
