package dns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// isExecutable reports whether path is an executable regular file.
func isExecutable(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Mode()&0o111 != 0
}

// runHelper runs an already-constructed helper command and maps its
// outcome: deadline overrun, signal death and non-zero exit each get a
// distinct diagnostic.
func runHelper(ctx context.Context, name string, timeout time.Duration, cmd *exec.Cmd) error {
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s did not exit within %s", name, timeout)
	}
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return fmt.Errorf("%s died with signal %s: %s", name, ws.Signal(), bytes.TrimSpace(out))
		}
		return fmt.Errorf("%s exited with status %d: %s", name, ee.ExitCode(), bytes.TrimSpace(out))
	}
	return fmt.Errorf("running %s: %w", name, err)
}

// resolvconfBackend hands the resolver configuration to the system's
// resolvconf implementation, which merges records from all of its
// clients into the resolver file it owns.
type resolvconfBackend struct {
	path    string
	timeout time.Duration
}

func (b *resolvconfBackend) Name() string { return "resolvconf" }

func (b *resolvconfBackend) Apply(searches, nameservers, options []string, nisDomain string, nisServers []string) error {
	if !isExecutable(b.path) {
		return fmt.Errorf("%s is not executable: %w", b.path, ErrBackendUnavailable)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if len(searches) == 0 && len(nameservers) == 0 {
		logrus.WithField("helper", b.path).Info("removing DNS information from resolvconf")
		return runHelper(ctx, "resolvconf", b.timeout,
			exec.CommandContext(ctx, b.path, "-d", serviceName))
	}

	logrus.WithField("helper", b.path).Info("writing DNS information to resolvconf")
	cmd := exec.CommandContext(ctx, b.path, "-a", serviceName)
	cmd.Stdin = strings.NewReader(createResolvConf(searches, nameservers, options))
	return runHelper(ctx, "resolvconf", b.timeout, cmd)
}

// netconfigBackend feeds the resolver configuration to SUSE's
// netconfig as KEY='value' lines on stdin. This is the only backend
// that forwards NIS information.
type netconfigBackend struct {
	path    string
	timeout time.Duration
}

func (b *netconfigBackend) Name() string { return "netconfig" }

func buildNetconfigInput(w io.Writer, searches, nameservers []string, nisDomain string, nisServers []string) {
	writeLine := func(key, value string) {
		fmt.Fprintf(w, "%s='%s'\n", key, value)
	}

	// The information fed here is already merged across interfaces, so
	// the record is filed under the service name rather than a device.
	writeLine("INTERFACE", serviceName)
	if len(searches) > 0 {
		writeLine("DNSSEARCH", strings.Join(searches, " "))
	}
	if len(nameservers) > 0 {
		writeLine("DNSSERVERS", strings.Join(nameservers, " "))
	}
	if nisDomain != "" {
		writeLine("NISDOMAIN", nisDomain)
	}
	if len(nisServers) > 0 {
		writeLine("NISSERVERS", strings.Join(nisServers, " "))
	}
}

func (b *netconfigBackend) Apply(searches, nameservers, options []string, nisDomain string, nisServers []string) error {
	if !isExecutable(b.path) {
		return fmt.Errorf("%s is not executable: %w", b.path, ErrBackendUnavailable)
	}

	var in bytes.Buffer
	buildNetconfigInput(&in, searches, nameservers, nisDomain, nisServers)

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	logrus.WithField("helper", b.path).Info("feeding DNS information to netconfig")
	cmd := exec.CommandContext(ctx, b.path, "modify", "--service", serviceName)
	cmd.Stdin = &in
	return runHelper(ctx, "netconfig", b.timeout, cmd)
}
