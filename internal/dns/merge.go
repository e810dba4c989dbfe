package dns

import (
	"net/netip"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"resolvd/internal/config"
	"resolvd/internal/utils"
)

// Per resolv.conf(5) the search list is limited to 6 domains totalling
// 256 characters.
const (
	maxSearchDomains = 6
	maxSearchLength  = 256
)

// resolvConfData accumulates the merged resolver configuration. Every
// list is deduplicated by exact string match, first occurrence wins,
// so merge order determines precedence.
type resolvConfData struct {
	nameservers []string
	searches    []string
	options     []string
	nisDomain   string
	nisServers  []string
}

func addUnique(list []string, s string) []string {
	for _, candidate := range list {
		if candidate == s {
			return list
		}
	}
	return append(list, s)
}

func (rc *resolvConfData) addNameserver(s string) {
	rc.nameservers = addUnique(rc.nameservers, s)
}

func (rc *resolvConfData) addSearch(s string) {
	rc.searches = addUnique(rc.searches, s)
}

func (rc *resolvConfData) addOption(s string) {
	rc.options = addUnique(rc.options, s)
}

func (rc *resolvConfData) addNISServer(s string) {
	rc.nisServers = addUnique(rc.nisServers, s)
}

// domainUsable reports whether a domain may appear in the search list.
// Bare public suffixes ("com", "co.uk") are rejected: resolving
// unqualified names against them is never what the user wants.
func domainUsable(domain string) bool {
	d := strings.TrimSuffix(domain, ".")
	if d == "" {
		return false
	}
	if err := utils.ValidateDomainLength(d); err != nil {
		return false
	}
	suffix, _ := publicsuffix.PublicSuffix(strings.ToLower(d))
	return !strings.EqualFold(suffix, d)
}

// renderNameserver formats a nameserver address for the resolver file.
// IPv4-mapped IPv6 addresses are rendered as plain IPv4; IPv6
// link-local addresses carry a zone suffix naming the owning interface
// so the resolver can route them.
func renderNameserver(addr netip.Addr, iface string) string {
	addr = addr.Unmap()
	if addr.Is6() && addr.IsLinkLocalUnicast() && iface != "" && addr.Zone() == "" {
		addr = addr.WithZone(iface)
	}
	return addr.String()
}

// mergeSource folds one source into the merged configuration. Domains
// become search entries only when the source has more than one domain
// or no explicit search list, so a lone connection-specific domain
// never shadows an explicit search configuration.
func (rc *resolvConfData) mergeSource(src *Source) {
	for _, a := range src.Nameservers {
		rc.addNameserver(renderNameserver(a, src.Iface))
	}

	for _, s := range src.Searches {
		if domainUsable(s) {
			rc.addSearch(s)
		}
	}
	if len(src.Domains) > 1 || len(src.Searches) == 0 {
		for _, d := range src.Domains {
			if domainUsable(d) {
				rc.addSearch(d)
			}
		}
	}

	for _, o := range src.Options {
		rc.addOption(o)
	}

	switch src.Family {
	case FamilyIPv4:
		for _, a := range src.NISServers {
			rc.addNISServer(a.Unmap().String())
		}
		if src.NISDomain != "" {
			if rc.nisDomain == "" {
				rc.nisDomain = src.NISDomain
			} else if rc.nisDomain != src.NISDomain {
				logrus.WithFields(logrus.Fields{
					"domain": src.NISDomain,
					"iface":  src.Iface,
				}).Debug("ignoring additional NIS domain, only one is supported")
			}
		}
	case FamilyIPv6:
		// NIS is IPv4-only.
	}
}

// mergeGlobal applies the global DNS override. It replaces per-source
// merging entirely: only the override's own searches, options and
// default-domain nameservers are used.
func (rc *resolvConfData) mergeGlobal(global *config.GlobalDNS) {
	for _, s := range global.Searches {
		if domainUsable(s) {
			rc.addSearch(s)
		}
	}
	for _, o := range global.Options {
		rc.addOption(o)
	}
	for _, ns := range global.Nameservers {
		rc.addNameserver(ns)
	}
}

// mergeHostname derives a search entry from a fully-qualified system
// hostname ("host.example.com" contributes "example.com") so the
// host's own non-qualified name keeps resolving. When the domain part
// is a bare public suffix the full hostname is considered instead,
// since the user is unlikely to want "com" as a search domain.
func (rc *resolvConfData) mergeHostname(hostname string) {
	if hostname == "" {
		return
	}
	dot := strings.IndexByte(hostname, '.')
	if dot < 0 {
		return
	}
	if _, err := netip.ParseAddr(hostname); err == nil {
		return
	}
	if hostdomain := hostname[dot+1:]; domainUsable(hostdomain) {
		rc.addSearch(hostdomain)
	} else if domainUsable(hostname) {
		rc.addSearch(hostname)
	}
}

// capSearches enforces the resolver library's search list limits: at
// most 6 entries within a 256 character budget, counting one separator
// per entry. The first entry over budget and everything after it are
// dropped.
func (rc *resolvConfData) capSearches() {
	n := len(rc.searches)
	if n > maxSearchDomains {
		n = maxSearchDomains
	}
	length := 0
	i := 0
	for ; i < n; i++ {
		length += len(rc.searches[i]) + 1
		if length > maxSearchLength {
			break
		}
	}
	rc.searches = rc.searches[:i]
}
