// Package dns implements the resolver configuration coordinator. It
// aggregates DNS facts contributed by network interfaces and VPN
// tunnels, merges them under fixed precedence rules and commits the
// result to the system resolver configuration through a pluggable
// persistence backend, optionally routing resolution through a local
// caching plugin such as dnsmasq.
package dns

import (
	"fmt"
	"hash"
	"net/netip"
)

// Family tags a Source with the address family its facts belong to.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Role ranks a source during merging. VPN sources are merged first,
// then the best-device source, then everything else.
type Role int

const (
	RoleDefault Role = iota
	RoleVPN
	RoleBestDevice
)

func (r Role) String() string {
	switch r {
	case RoleVPN:
		return "vpn"
	case RoleBestDevice:
		return "best-device"
	default:
		return "default"
	}
}

// Source is one bundle of DNS facts contributed by an interface or VPN
// tunnel, typically obtained via DHCP, router advertisements or VPN
// negotiation. A source is exclusively owned by the manager while
// attached; callers hand it over on AddSource and identify it by
// pointer on RemoveSource.
type Source struct {
	Family Family

	// Iface is the owning interface, used to scope link-local
	// nameserver addresses. Set by the manager on attach.
	Iface string

	Nameservers []netip.Addr
	Domains     []string
	Searches    []string
	Options     []string

	// NIS information is carried on IPv4 sources only and consumed by
	// the netconfig backend.
	NISDomain  string
	NISServers []netip.Addr
}

// hashInto feeds the source's ordered contents to a fingerprint digest.
// Field separators keep adjacent lists from colliding.
func (s *Source) hashInto(h hash.Hash) {
	fmt.Fprintf(h, "src:%d:%s;", s.Family, s.Iface)
	for _, a := range s.Nameservers {
		fmt.Fprintf(h, "ns=%s;", a)
	}
	for _, d := range s.Domains {
		fmt.Fprintf(h, "dom=%s;", d)
	}
	for _, d := range s.Searches {
		fmt.Fprintf(h, "sea=%s;", d)
	}
	for _, o := range s.Options {
		fmt.Fprintf(h, "opt=%s;", o)
	}
	if s.NISDomain != "" {
		fmt.Fprintf(h, "nisdom=%s;", s.NISDomain)
	}
	for _, a := range s.NISServers {
		fmt.Fprintf(h, "nis=%s;", a)
	}
}

func containsSource(list []*Source, src *Source) bool {
	for _, s := range list {
		if s == src {
			return true
		}
	}
	return false
}

func removeSource(list []*Source, src *Source) []*Source {
	for i, s := range list {
		if s == src {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
