package mcp

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Hosts that serve cloud instance credentials.
var metadataHosts = map[string]bool{
	"metadata":                 true,
	"metadata.google.internal": true,
	"metadata.azure.com":       true,
	"instance-data":            true,
}

var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("fd00:ec2::254"),
	netip.MustParseAddr("100.100.100.200"),
}

// ValidateURL rejects server URLs that are malformed or point at addresses
// a tool server has no business on: link-local ranges, instance metadata
// endpoints, unspecified and multicast addresses. Loopback and private
// ranges stay allowed for locally run servers.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.User != nil {
		return errors.New("credentials in the url are not allowed; use headers")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("missing host")
	}
	if metadataHosts[strings.ToLower(strings.TrimSuffix(host, "."))] {
		return fmt.Errorf("host %q is a cloud metadata endpoint", host)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// A hostname; nothing more to check without resolving it.
		return nil
	}
	addr = addr.Unmap()
	switch {
	case addr.IsUnspecified():
		return fmt.Errorf("address %s is unspecified", addr)
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("address %s is link-local", addr)
	case addr.IsMulticast():
		return fmt.Errorf("address %s is multicast", addr)
	}
	for _, m := range metadataAddrs {
		if addr == m {
			return fmt.Errorf("address %s is a cloud metadata endpoint", addr)
		}
	}
	return nil
}
