package security

import (
	"os"
	"syscall"
	"testing"
)

func TestClearSensitiveEnv(t *testing.T) {
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("SSH_AUTH_SOCK", "/tmp/agent.sock")

	NewHardening().clearSensitiveEnv()

	if _, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
		t.Error("AWS_SECRET_ACCESS_KEY survived")
	}
	if _, ok := os.LookupEnv("SSH_AUTH_SOCK"); ok {
		t.Error("SSH_AUTH_SOCK survived")
	}
}

func TestSetSecureUmask(t *testing.T) {
	old := syscall.Umask(0o022)
	defer syscall.Umask(old)

	NewHardening().setSecureUmask()

	if got := syscall.Umask(old); got != 0o077 {
		t.Errorf("umask is %04o, want 0077", got)
	}
}

func TestDisableCoreDumps(t *testing.T) {
	h := NewHardening()
	if err := h.disableCoreDumps(); err != nil {
		t.Fatalf("disableCoreDumps failed: %v", err)
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_CORE, &rLimit); err != nil {
		t.Fatal(err)
	}
	if rLimit.Cur != 0 {
		t.Errorf("core dump limit is %d, want 0", rLimit.Cur)
	}
}
