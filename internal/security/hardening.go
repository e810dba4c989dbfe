// Package security hardens the resolvd process. The daemon runs as
// root and rewrites a file every process on the system trusts, so its
// own attack surface is kept as small as practical.
package security

import (
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
)

// HardenProcess holds the hardening knobs applied at startup
type HardenProcess struct {
	maxOpenFiles uint64
}

// NewHardening creates the default hardening configuration
func NewHardening() *HardenProcess {
	return &HardenProcess{
		maxOpenFiles: 256,
	}
}

// ApplyHardening applies all measures to the current process. Each
// failure is logged and the rest still applied; none of them is worth
// refusing to manage DNS over.
func (h *HardenProcess) ApplyHardening() error {
	if err := h.setResourceLimits(); err != nil {
		logrus.WithError(err).Warn("Failed to set resource limits")
	}
	if err := h.disableCoreDumps(); err != nil {
		logrus.WithError(err).Warn("Failed to disable core dumps")
	}
	h.clearSensitiveEnv()
	h.setSecureUmask()
	return nil
}

// setResourceLimits caps the file descriptor count. resolvd opens a
// handful of files and pipes to helper processes; a small cap turns a
// descriptor leak into a visible failure instead of a system problem.
func (h *HardenProcess) setResourceLimits() error {
	rLimit := syscall.Rlimit{Cur: h.maxOpenFiles, Max: h.maxOpenFiles}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return err
	}
	logrus.WithField("limit", h.maxOpenFiles).Debug("File descriptor limit set")
	return nil
}

// disableCoreDumps prevents memory disclosure through core files.
func (h *HardenProcess) disableCoreDumps() error {
	rLimit := syscall.Rlimit{Cur: 0, Max: 0}
	return syscall.Setrlimit(syscall.RLIMIT_CORE, &rLimit)
}

// clearSensitiveEnv drops credentials inherited from the caller's
// environment before any helper process is spawned.
func (h *HardenProcess) clearSensitiveEnv() {
	sensitiveVars := []string{
		"AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY",
		"AWS_SESSION_TOKEN",
		"SSH_AUTH_SOCK",
	}
	for _, v := range sensitiveVars {
		os.Unsetenv(v)
	}
}

// setSecureUmask makes files private by default. The resolver file
// itself is written with explicit world-readable permissions; state
// under the run directory needs none.
func (h *HardenProcess) setSecureUmask() {
	oldUmask := syscall.Umask(0o077)
	logrus.Debugf("Changed umask from %04o to 0077", oldUmask)
}
