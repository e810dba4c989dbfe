package dns

import (
	"errors"
	"strings"
)

// serviceName identifies resolvd's record when talking to the
// resolvconf and netconfig helpers.
const serviceName = "resolvd"

// ErrBackendUnavailable marks a backend whose helper binary is not
// installed. It triggers a one-shot fallback to the symlink backend
// instead of surfacing as a commit failure.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Backend durably applies a merged resolver configuration to the
// operating environment. Implementations report nil on success,
// ErrBackendUnavailable (wrapped) when their helper is missing, or a
// diagnostic error. The NIS pair is consumed only by the netconfig
// backend.
type Backend interface {
	Name() string
	Apply(searches, nameservers, options []string, nisDomain string, nisServers []string) error
}

// rcManager enumerates the mutually exclusive strategies for
// maintaining the system resolver file.
type rcManager int

const (
	rcManagerUnknown rcManager = iota
	rcManagerUnmanaged
	rcManagerImmutable
	rcManagerSymlink
	rcManagerFile
	rcManagerResolvconf
	rcManagerNetconfig
)

func (m rcManager) String() string {
	switch m {
	case rcManagerUnmanaged:
		return "unmanaged"
	case rcManagerImmutable:
		return "immutable"
	case rcManagerSymlink:
		return "symlink"
	case rcManagerFile:
		return "file"
	case rcManagerResolvconf:
		return "resolvconf"
	case rcManagerNetconfig:
		return "netconfig"
	default:
		return "unknown"
	}
}

func rcManagerFromName(name string) rcManager {
	switch name {
	case "symlink", "none":
		return rcManagerSymlink
	case "file":
		return rcManagerFile
	case "resolvconf":
		return rcManagerResolvconf
	case "netconfig":
		return rcManagerNetconfig
	case "unmanaged":
		return rcManagerUnmanaged
	default:
		return rcManagerUnknown
	}
}

func defaultRcManager() rcManager {
	return rcManagerSymlink
}

// createResolvConf renders the canonical resolver file format: a
// generator header, the search line, one nameserver line per server
// and the options line. Empty sections are omitted.
func createResolvConf(searches, nameservers, options []string) string {
	var b strings.Builder
	b.WriteString("# Generated by " + serviceName + "\n")
	if len(searches) > 0 {
		b.WriteString("search ")
		b.WriteString(strings.Join(searches, " "))
		b.WriteByte('\n')
	}
	for i, ns := range nameservers {
		if i == 3 {
			b.WriteString("# NOTE: the libc resolver may not support more than 3 nameservers.\n")
			b.WriteString("# The nameservers listed below may not be recognized.\n")
		}
		b.WriteString("nameserver ")
		b.WriteString(ns)
		b.WriteByte('\n')
	}
	if len(options) > 0 {
		b.WriteString("options ")
		b.WriteString(strings.Join(options, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
