package updates

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestSigner(t *testing.T) *URLSigner {
	t.Helper()
	s, err := NewURLSigner([]byte("app-key"), "https://licenses.example.com", time.Hour)
	if err != nil {
		t.Fatalf("NewURLSigner() error = %v", err)
	}
	return s
}

func parseLink(t *testing.T, link string) (uuid.UUID, url.Values) {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	id, err := uuid.Parse(strings.TrimPrefix(u.Path, "/download/"))
	if err != nil {
		t.Fatalf("parse release id from %q: %v", u.Path, err)
	}
	return id, u.Query()
}

func TestURLSigner_RoundTrip(t *testing.T) {
	s := newTestSigner(t)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	releaseID := uuid.New()
	key := uuid.NewString()
	link, expires := s.SignedURL(releaseID, key)

	if !strings.HasPrefix(link, "https://licenses.example.com/download/") {
		t.Errorf("unexpected link %q", link)
	}
	if !expires.Equal(now.Add(time.Hour)) {
		t.Errorf("expires = %v, want %v", expires, now.Add(time.Hour))
	}

	id, q := parseLink(t, link)
	if id != releaseID {
		t.Errorf("release id = %s, want %s", id, releaseID)
	}
	if err := s.Verify(id, q.Get("license"), q.Get("expires"), q.Get("signature")); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestURLSigner_Rejections(t *testing.T) {
	s := newTestSigner(t)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	releaseID := uuid.New()
	key := uuid.NewString()
	link, _ := s.SignedURL(releaseID, key)
	_, q := parseLink(t, link)

	other, err := NewURLSigner([]byte("other-app-key"), "https://licenses.example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	otherLink, _ := other.SignedURL(releaseID, key)
	_, otherQ := parseLink(t, otherLink)

	tests := []struct {
		name      string
		releaseID uuid.UUID
		license   string
		expires   string
		signature string
		wantErr   error
	}{
		{"other release", uuid.New(), key, q.Get("expires"), q.Get("signature"), ErrInvalidDownloadSignature},
		{"other license", releaseID, uuid.NewString(), q.Get("expires"), q.Get("signature"), ErrInvalidDownloadSignature},
		{"extended expiry", releaseID, key, "1800000000", q.Get("signature"), ErrInvalidDownloadSignature},
		{"other app key", releaseID, key, otherQ.Get("expires"), otherQ.Get("signature"), ErrInvalidDownloadSignature},
		{"malformed expiry", releaseID, key, "soon", q.Get("signature"), ErrInvalidDownloadSignature},
		{"empty signature", releaseID, key, q.Get("expires"), "", ErrInvalidDownloadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.releaseID, tt.license, tt.expires, tt.signature)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	if err := s.Verify(releaseID, key, q.Get("expires"), q.Get("signature")); !errors.Is(err, ErrDownloadLinkExpired) {
		t.Errorf("Verify() after expiry error = %v, want %v", err, ErrDownloadLinkExpired)
	}
}
