// Package utils provides size and length limits shared across resolvd.
package utils

import (
	"fmt"
	"io"
	"strings"
)

const (
	// MaxConfigFileSize is the maximum size for configuration files (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024

	// MaxDomainLength is the maximum length for a domain name
	MaxDomainLength = 253

	// MaxDomainLabelLength is the maximum length of one domain label
	MaxDomainLabelLength = 63
)

// ReadAllLimited reads all data from r up to limit bytes and fails when
// more is offered. Config files and helper output come through here so
// a runaway input cannot balloon the process.
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	limited := &io.LimitedReader{R: r, N: limit + 1} // +1 to detect overrun
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("data exceeds maximum size of %d bytes", limit)
	}
	return data, nil
}

// ValidateDomainLength checks RFC 1035 length limits for a domain name.
func ValidateDomainLength(domain string) error {
	if len(domain) > MaxDomainLength {
		return fmt.Errorf("domain name exceeds maximum length of %d characters", MaxDomainLength)
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > MaxDomainLabelLength {
			return fmt.Errorf("domain label exceeds maximum length of %d characters", MaxDomainLabelLength)
		}
	}
	return nil
}
