package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDomain(t *testing.T) {
	tests := []struct {
		domain string
		dev    bool
		reason DomainReason
	}{
		{"example.com", false, DomainReasonProduction},
		{"shop.example.co.uk", false, DomainReasonProduction},
		{"", true, DomainReasonEmpty},
		{"localhost", true, DomainReasonLocalhost},
		{"localhost:8080", true, DomainReasonLocalhost},
		{"mysite.local", true, DomainReasonDevSuffix},
		{"mysite.test/wp", true, DomainReasonDevSuffix},
		{"client.staging", true, DomainReasonDevSuffix},
		{"project.ddev.site", true, DomainReasonDevSuffix},
		{"abc123.ngrok-free.app", true, DomainReasonTunnel},
		{"quiet-fox.trycloudflare.com", true, DomainReasonTunnel},
		{"127.0.0.1", true, DomainReasonLoopbackIP},
		{"127.0.0.1:8000", true, DomainReasonLoopbackIP},
		{"10.1.2.3", true, DomainReasonPrivateIP},
		{"192.168.1.20", true, DomainReasonPrivateIP},
		{"172.16.0.5", true, DomainReasonPrivateIP},
		{"8.8.8.8", false, DomainReasonProduction},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got := ClassifyDomain(tt.domain)
			assert.Equal(t, tt.dev, got.Development)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestParseDevDomainPolicy(t *testing.T) {
	assert.Equal(t, DevDomainReject, ParseDevDomainPolicy("reject"))
	assert.Equal(t, DevDomainReject, ParseDevDomainPolicy(" REJECT "))
	assert.Equal(t, DevDomainAllow, ParseDevDomainPolicy("allow"))
	assert.Equal(t, DevDomainAllow, ParseDevDomainPolicy(""))
	assert.Equal(t, DevDomainAllow, ParseDevDomainPolicy("bogus"))
}
