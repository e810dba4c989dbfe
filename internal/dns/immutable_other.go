//go:build !linux

package dns

// Immutability attributes are a Linux filesystem concept; elsewhere the
// resolver file is never considered immutable.
func resolvConfImmutable(path string) bool {
	return false
}
