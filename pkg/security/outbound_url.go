// Package security checks user supplied endpoints before requests are sent
// to them.
package security

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
)

type OutboundURLOptions struct {
	// AllowHTTP permits plain http. https is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits localhost, loopback, private and link-local
	// targets, such as a completion server running on the same machine.
	AllowLocalNetworks bool
}

// ValidateOutboundURL rejects completion base urls with an unsupported scheme
// or, unless allowed, a local network host. field names the config key in the
// returned ValidationError. Hostnames are not resolved.
func ValidateOutboundURL(field string, rawURL string, opts OutboundURLOptions) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return chaterr.NewValidationError(field, "invalid url: "+err.Error())
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return chaterr.NewValidationError(field, "http is not allowed")
		}
	default:
		return chaterr.NewValidationError(field, "unsupported scheme "+strings.TrimSpace(parsed.Scheme))
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return chaterr.NewValidationError(field, "host is required")
	}

	local := host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local")

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" {
			local = true
		}
		addr = addr.Unmap()
		if addr.IsUnspecified() || addr.IsMulticast() {
			return chaterr.NewValidationError(field, "address "+host+" is not routable")
		}
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
			local = true
		}
	}

	if local && !opts.AllowLocalNetworks {
		return chaterr.NewValidationError(field, "local network host "+host+" is not allowed")
	}
	return nil
}
