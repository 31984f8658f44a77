package license

import (
	"net"
	"net/netip"
	"strings"
)

// DomainReason explains how a normalized domain was classified.
type DomainReason string

const (
	DomainReasonProduction DomainReason = "production"
	DomainReasonEmpty      DomainReason = "empty"
	DomainReasonLocalhost  DomainReason = "localhost"
	DomainReasonDevSuffix  DomainReason = "dev_suffix"
	DomainReasonTunnel     DomainReason = "tunnel_domain"
	DomainReasonLoopbackIP DomainReason = "loopback_ip"
	DomainReasonPrivateIP  DomainReason = "private_ip"
)

// DevDomainPolicy decides whether development domains consume production slots.
type DevDomainPolicy string

const (
	// DevDomainAllow treats development domains like any other domain.
	DevDomainAllow DevDomainPolicy = "allow"
	// DevDomainReject refuses to activate development domains.
	DevDomainReject DevDomainPolicy = "reject"
)

// ParseDevDomainPolicy returns the policy for s, defaulting to DevDomainAllow.
func ParseDevDomainPolicy(s string) DevDomainPolicy {
	if DevDomainPolicy(strings.ToLower(strings.TrimSpace(s))) == DevDomainReject {
		return DevDomainReject
	}
	return DevDomainAllow
}

var devSuffixes = []string{
	".local",
	".localhost",
	".test",
	".staging",
	".invalid",
	".example",
	".lndo.site",
	".ddev.site",
}

var tunnelSuffixes = []string{
	".ngrok.io",
	".ngrok-free.app",
	".ngrok.app",
	".loca.lt",
	".localtunnel.me",
	".trycloudflare.com",
	".serveo.net",
	".expose.dev",
	".sharedwithexpose.com",
}

// DomainClassification is the result of ClassifyDomain.
type DomainClassification struct {
	Development bool
	Reason      DomainReason
}

// ClassifyDomain reports whether a normalized domain looks like a
// non-production environment.
func ClassifyDomain(domain string) DomainClassification {
	host := hostOf(domain)
	if host == "" {
		return DomainClassification{Development: true, Reason: DomainReasonEmpty}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback() || addr.IsUnspecified():
			return DomainClassification{Development: true, Reason: DomainReasonLoopbackIP}
		case addr.IsPrivate() || addr.IsLinkLocalUnicast():
			return DomainClassification{Development: true, Reason: DomainReasonPrivateIP}
		}
		return DomainClassification{Reason: DomainReasonProduction}
	}

	if host == "localhost" {
		return DomainClassification{Development: true, Reason: DomainReasonLocalhost}
	}
	for _, suffix := range devSuffixes {
		if strings.HasSuffix(host, suffix) {
			return DomainClassification{Development: true, Reason: DomainReasonDevSuffix}
		}
	}
	for _, suffix := range tunnelSuffixes {
		if strings.HasSuffix(host, suffix) {
			return DomainClassification{Development: true, Reason: DomainReasonTunnel}
		}
	}

	return DomainClassification{Reason: DomainReasonProduction}
}

// hostOf strips the path and port from a normalized domain.
func hostOf(domain string) string {
	host := domain
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(host, "[]")
}
