//go:build linux

package dns

import (
	"os"

	"golang.org/x/sys/unix"
)

// FS_IMMUTABLE_FL from <linux/fs.h>; not exported by golang.org/x/sys/unix.
const fsImmutableFL = 0x00000010

// resolvConfImmutable reports whether path carries the filesystem
// immutable attribute (chattr +i). An immutable resolver file is an
// explicit statement that nothing should rewrite it.
func resolvConfImmutable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	flags, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return false
	}
	return flags&fsImmutableFL != 0
}
