// Package auth authenticates inbound requests: HMAC-signed plugin calls and
// the operator admin token.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature indicates the presented signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrExpiredTimestamp indicates the request timestamp is outside the replay window.
	ErrExpiredTimestamp = errors.New("request timestamp outside replay window")
	// ErrMissingCredential indicates a required signature or timestamp is absent or malformed.
	ErrMissingCredential = errors.New("missing credential")
)

// Plugin request headers.
const (
	HeaderPluginSignature = "X-Plugin-Signature"
	HeaderPluginTimestamp = "X-Plugin-Timestamp"
)

// DefaultTolerance is the replay window for signed plugin requests.
const DefaultTolerance = 300 * time.Second

// CanonicalJSON re-serializes a JSON object with sorted keys, no insignificant
// whitespace and no HTML escaping. An empty body canonicalizes to "{}".
func CanonicalJSON(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return encodeCanonical(v)
}

// CanonicalQuery canonicalizes query parameters as a JSON object of their
// first values, for signed GET requests.
func CanonicalQuery(values url.Values) ([]byte, error) {
	m := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			m[k] = vs[0]
		}
	}
	return encodeCanonical(m)
}

func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order.
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode canonical body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SignPluginRequest returns hex HMAC-SHA256(timestamp || canonical, secret).
func SignPluginRequest(timestamp string, canonical, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// DefaultLicenseSecret derives the signing secret of a license that has no
// dedicated secret: hex SHA-256 of the license key followed by the server key.
func DefaultLicenseSecret(licenseKey string, serverKey []byte) []byte {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(licenseKey))))
	h.Write(serverKey)
	return []byte(hex.EncodeToString(h.Sum(nil)))
}

// PluginVerifier checks signed plugin requests.
type PluginVerifier struct {
	tolerance time.Duration
	required  bool
	now       func() time.Time
}

// NewPluginVerifier creates a verifier. When required is false, requests that
// carry neither header pass through unsigned.
func NewPluginVerifier(tolerance time.Duration, required bool) *PluginVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &PluginVerifier{
		tolerance: tolerance,
		required:  required,
		now:       time.Now,
	}
}

// Required reports whether unsigned requests are rejected.
func (v *PluginVerifier) Required() bool {
	return v.required
}

// ShouldVerify reports whether a request with these header values must be
// verified. Unsigned requests are skipped only in optional mode.
func (v *PluginVerifier) ShouldVerify(signature, timestamp string) bool {
	return v.required || signature != "" || timestamp != ""
}

// Verify checks the timestamp window and the signature over the canonical body.
func (v *PluginVerifier) Verify(signature, timestamp string, canonical, secret []byte) error {
	if timestamp == "" {
		return fmt.Errorf("%w: %s header", ErrMissingCredential, HeaderPluginTimestamp)
	}
	if signature == "" {
		return fmt.Errorf("%w: %s header", ErrMissingCredential, HeaderPluginSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrMissingCredential)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return ErrExpiredTimestamp
	}

	expected := SignPluginRequest(timestamp, canonical, secret)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}
