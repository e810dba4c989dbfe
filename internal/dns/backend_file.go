package dns

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// resolvConfWriter owns the two serialized outputs: the system
// resolver file and resolvd's private runtime copy. The private copy
// exists regardless of backend so a valid configuration survives
// backend failures and restarts.
type resolvConfWriter struct {
	systemPath string
	runDir     string
}

func newResolvConfWriter(systemPath, runDir string) *resolvConfWriter {
	return &resolvConfWriter{systemPath: systemPath, runDir: runDir}
}

func (w *resolvConfWriter) privatePath() string {
	return filepath.Join(w.runDir, "resolv.conf")
}

func atomicWrite(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// writePrivate atomically replaces the private runtime copy.
func (w *resolvConfWriter) writePrivate(content string) error {
	if err := os.MkdirAll(w.runDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", w.runDir, err)
	}
	return atomicWrite(w.privatePath(), content)
}

// writeSystem atomically replaces the system resolver file with a
// regular file.
func (w *resolvConfWriter) writeSystem(content string) error {
	return atomicWrite(w.systemPath, content)
}

// applyPrivateOnly refreshes the private copy without touching the
// system path. When the system path is a symlink at the private copy
// while we are not the one managing it, even that write is skipped so
// an external owner's content survives.
func (w *resolvConfWriter) applyPrivateOnly(content string) error {
	if target, err := os.Readlink(w.systemPath); err == nil && target == w.privatePath() {
		logrus.WithField("path", w.systemPath).Debug(
			"not updating private resolver copy: system path points at it")
		return nil
	}
	return w.writePrivate(content)
}

// adoptSystemSymlink points the system resolver path at the private
// copy. The path is taken over only when it is absent, a regular file,
// or already resolvd's own symlink; a link owned by anything else is
// left alone and reported as success. Our own link is refreshed even
// when already correct so inotify watchers see the change.
func (w *resolvConfWriter) adoptSystemSymlink() error {
	st, err := os.Lstat(w.systemPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lstat %s: %w", w.systemPath, err)
	}
	if err == nil && st.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(w.systemPath)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", w.systemPath, err)
		}
		if target != w.privatePath() {
			logrus.WithFields(logrus.Fields{
				"path":   w.systemPath,
				"target": target,
			}).Debug("system resolver file managed externally, leaving it alone")
			return nil
		}
	}

	// Replace via a temporary symlink in the same directory so the
	// switch is atomic.
	tmp := filepath.Join(filepath.Dir(w.systemPath), ".resolv.conf."+serviceName)
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink %s: %w", tmp, err)
	}
	if err := os.Symlink(w.privatePath(), tmp); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", tmp, w.privatePath(), err)
	}
	if err := os.Rename(tmp, w.systemPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmp, w.systemPath, err)
	}
	return nil
}

// fileBackend writes the merged configuration straight to the system
// resolver file as a regular file.
type fileBackend struct {
	w *resolvConfWriter
}

func (b *fileBackend) Name() string { return "file" }

func (b *fileBackend) Apply(searches, nameservers, options []string, nisDomain string, nisServers []string) error {
	content := createResolvConf(searches, nameservers, options)

	// The private copy is written even when the system write fails, so
	// a usable fallback configuration always exists.
	werr := b.w.writeSystem(content)
	if werr != nil {
		logrus.WithError(werr).WithField("path", b.w.systemPath).
			Warn("write to system resolver file failed")
	}
	if err := b.w.writePrivate(content); err != nil {
		if werr == nil {
			return err
		}
		logrus.WithError(err).Warn("write to private resolver copy failed")
	}
	return werr
}

// symlinkBackend maintains the private copy and keeps the system
// resolver path symlinked at it, unless the path is owned by another
// program.
type symlinkBackend struct {
	w *resolvConfWriter
}

func (b *symlinkBackend) Name() string { return "symlink" }

func (b *symlinkBackend) Apply(searches, nameservers, options []string, nisDomain string, nisServers []string) error {
	content := createResolvConf(searches, nameservers, options)
	if err := b.w.writePrivate(content); err != nil {
		return err
	}
	return b.w.adoptSystemSymlink()
}
