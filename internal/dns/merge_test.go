package dns

import (
	"net/netip"
	"strings"
	"testing"

	"resolvd/internal/config"
)

func mustAddrs(addrs ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, netip.MustParseAddr(a))
	}
	return out
}

func TestMergeSource(t *testing.T) {
	t.Run("DeduplicatesAcrossSources", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:      FamilyIPv4,
			Nameservers: mustAddrs("10.0.0.1", "10.0.0.2"),
			Searches:    []string{"corp.example.com"},
		})
		rc.mergeSource(&Source{
			Family:      FamilyIPv4,
			Nameservers: mustAddrs("10.0.0.2", "10.0.0.3"),
			Searches:    []string{"corp.example.com", "lab.example.com"},
		})

		wantNS := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
		if len(rc.nameservers) != len(wantNS) {
			t.Fatalf("expected %d nameservers, got %v", len(wantNS), rc.nameservers)
		}
		for i, ns := range wantNS {
			if rc.nameservers[i] != ns {
				t.Errorf("nameserver %d: expected %s, got %s", i, ns, rc.nameservers[i])
			}
		}
		if len(rc.searches) != 2 {
			t.Errorf("expected 2 searches, got %v", rc.searches)
		}
	})

	t.Run("SingleDomainDoesNotShadowSearches", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:   FamilyIPv4,
			Searches: []string{"search.example.com"},
			Domains:  []string{"domain.example.com"},
		})
		if len(rc.searches) != 1 || rc.searches[0] != "search.example.com" {
			t.Errorf("single domain should not join an explicit search list, got %v", rc.searches)
		}
	})

	t.Run("MultipleDomainsJoinSearches", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:   FamilyIPv4,
			Searches: []string{"search.example.com"},
			Domains:  []string{"one.example.com", "two.example.com"},
		})
		want := []string{"search.example.com", "one.example.com", "two.example.com"}
		if len(rc.searches) != len(want) {
			t.Fatalf("expected searches %v, got %v", want, rc.searches)
		}
	})

	t.Run("DomainsUsedWhenNoSearches", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:  FamilyIPv4,
			Domains: []string{"only.example.com"},
		})
		if len(rc.searches) != 1 || rc.searches[0] != "only.example.com" {
			t.Errorf("lone domain should become the search list, got %v", rc.searches)
		}
	})

	t.Run("PublicSuffixRejected", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:   FamilyIPv4,
			Searches: []string{"com", "co.uk", "example.com"},
		})
		if len(rc.searches) != 1 || rc.searches[0] != "example.com" {
			t.Errorf("bare public suffixes must be dropped, got %v", rc.searches)
		}
	})

	t.Run("LinkLocalGetsZone", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:      FamilyIPv6,
			Iface:       "eth0",
			Nameservers: mustAddrs("fe80::1", "2001:db8::1"),
		})
		if rc.nameservers[0] != "fe80::1%eth0" {
			t.Errorf("link-local nameserver should carry a zone, got %s", rc.nameservers[0])
		}
		if rc.nameservers[1] != "2001:db8::1" {
			t.Errorf("global nameserver should not carry a zone, got %s", rc.nameservers[1])
		}
	})

	t.Run("V4MappedRenderedAsIPv4", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{
			Family:      FamilyIPv6,
			Iface:       "eth0",
			Nameservers: mustAddrs("::ffff:192.0.2.1"),
		})
		if rc.nameservers[0] != "192.0.2.1" {
			t.Errorf("v4-mapped nameserver should render as IPv4, got %s", rc.nameservers[0])
		}
	})

	t.Run("FirstNISDomainWins", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{Family: FamilyIPv4, NISDomain: "first"})
		rc.mergeSource(&Source{Family: FamilyIPv4, NISDomain: "second"})
		if rc.nisDomain != "first" {
			t.Errorf("expected NIS domain first, got %s", rc.nisDomain)
		}
	})

	t.Run("NISIgnoredOnIPv6", func(t *testing.T) {
		var rc resolvConfData
		rc.mergeSource(&Source{Family: FamilyIPv6, NISDomain: "nope"})
		if rc.nisDomain != "" {
			t.Errorf("NIS domain must not come from IPv6 sources, got %s", rc.nisDomain)
		}
	})
}

func TestMergeIdempotent(t *testing.T) {
	sources := []*Source{
		{
			Family:      FamilyIPv4,
			Iface:       "eth0",
			Nameservers: mustAddrs("10.0.0.1"),
			Searches:    []string{"example.com"},
			Options:     []string{"ndots:2"},
		},
		{
			Family:      FamilyIPv6,
			Iface:       "wlan0",
			Nameservers: mustAddrs("fe80::1"),
			Domains:     []string{"wifi.example.com"},
		},
	}

	merge := func() string {
		var rc resolvConfData
		for _, s := range sources {
			rc.mergeSource(s)
		}
		rc.mergeHostname("host.example.org")
		rc.capSearches()
		return createResolvConf(rc.searches, rc.nameservers, rc.options)
	}

	first := merge()
	for i := 0; i < 5; i++ {
		if got := merge(); got != first {
			t.Fatalf("merge not idempotent:\nfirst:\n%s\ngot:\n%s", first, got)
		}
	}
}

func TestMergeHostname(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		want     []string
	}{
		{"FQDNContributesDomain", "host.example.com", []string{"example.com"}},
		{"TopLevelDomainHostUsedWhole", "example.com", []string{"example.com"}},
		{"BarePublicSuffixIgnored", "co.uk", nil},
		{"UndottedIgnored", "host", nil},
		{"IPAddressIgnored", "192.0.2.1", nil},
		{"Empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rc resolvConfData
			rc.mergeHostname(tt.hostname)
			if len(rc.searches) != len(tt.want) {
				t.Fatalf("expected searches %v, got %v", tt.want, rc.searches)
			}
			for i := range tt.want {
				if rc.searches[i] != tt.want[i] {
					t.Errorf("search %d: expected %s, got %s", i, tt.want[i], rc.searches[i])
				}
			}
		})
	}
}

func TestCapSearches(t *testing.T) {
	t.Run("SixEntryLimit", func(t *testing.T) {
		var rc resolvConfData
		for _, d := range []string{
			"a1.example.com", "a2.example.com", "a3.example.com", "a4.example.com",
			"a5.example.com", "a6.example.com", "a7.example.com", "a8.example.com",
		} {
			rc.addSearch(d)
		}
		rc.capSearches()
		if len(rc.searches) != 6 {
			t.Fatalf("expected 6 searches, got %d: %v", len(rc.searches), rc.searches)
		}
		if rc.searches[0] != "a1.example.com" || rc.searches[5] != "a6.example.com" {
			t.Errorf("searches not kept in first-seen order: %v", rc.searches)
		}
	})

	t.Run("CharacterBudget", func(t *testing.T) {
		var rc resolvConfData
		long := strings.Repeat("x", 120) + ".example.com" // 132 chars each
		rc.addSearch("a." + long)
		rc.addSearch("b." + long)
		rc.addSearch("short.example.com")
		rc.capSearches()
		// Entry 1: 135, entry 2: another 135 puts the running total at
		// 270 > 256, so it and everything after are dropped.
		if len(rc.searches) != 1 {
			t.Fatalf("expected hard cutoff after first over-budget entry, got %v", rc.searches)
		}
	})
}

func TestMergeGlobal(t *testing.T) {
	var rc resolvConfData
	rc.mergeGlobal(&config.GlobalDNS{
		Searches:    []string{"example.org", "example.org"},
		Options:     []string{"timeout:1"},
		Nameservers: []string{"192.0.2.53"},
	})
	if len(rc.searches) != 1 || rc.searches[0] != "example.org" {
		t.Errorf("global searches wrong: %v", rc.searches)
	}
	if len(rc.nameservers) != 1 || rc.nameservers[0] != "192.0.2.53" {
		t.Errorf("global nameservers wrong: %v", rc.nameservers)
	}
	if len(rc.options) != 1 || rc.options[0] != "timeout:1" {
		t.Errorf("global options wrong: %v", rc.options)
	}
}

func TestDomainUsable(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"com", false},
		{"co.uk", false},
		{"", false},
		{".", false},
		{"example.com.", true},
	}
	for _, tt := range tests {
		if got := domainUsable(tt.domain); got != tt.want {
			t.Errorf("domainUsable(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
}
