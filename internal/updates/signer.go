package updates

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/MacJediWizard/keygate/internal/crypto"
	"github.com/google/uuid"
)

var (
	// ErrInvalidDownloadSignature indicates a tampered or foreign download link.
	ErrInvalidDownloadSignature = errors.New("invalid download signature")
	// ErrDownloadLinkExpired indicates the download link is past its expiry.
	ErrDownloadLinkExpired = errors.New("download link expired")
)

// downloadKeyInfo is the HKDF context for the download URL signing key.
const downloadKeyInfo = "download-url"

// URLSigner issues and checks time-limited download links scoped to one
// license and one release.
type URLSigner struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewURLSigner derives the signing key from the application key.
func NewURLSigner(appKey []byte, publicURL string, ttl time.Duration) (*URLSigner, error) {
	key, err := crypto.DeriveKey(appKey, downloadKeyInfo, 32)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &URLSigner{
		key:     key,
		baseURL: publicURL,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *URLSigner) signature(releaseID uuid.UUID, licenseKey string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s|%s|%d", releaseID, licenseKey, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL returns the download link and its expiry.
func (s *URLSigner) SignedURL(releaseID uuid.UUID, licenseKey string) (string, time.Time) {
	expires := s.now().Add(s.ttl).Truncate(time.Second)
	q := url.Values{}
	q.Set("license", licenseKey)
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("signature", s.signature(releaseID, licenseKey, expires.Unix()))
	return fmt.Sprintf("%s/download/%s?%s", s.baseURL, releaseID, q.Encode()), expires
}

// Verify checks a link's signature and expiry.
func (s *URLSigner) Verify(releaseID uuid.UUID, licenseKey, expires, signature string) error {
	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || licenseKey == "" || signature == "" {
		return ErrInvalidDownloadSignature
	}
	expected := s.signature(releaseID, licenseKey, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidDownloadSignature
	}
	if s.now().Unix() > ts {
		return ErrDownloadLinkExpired
	}
	return nil
}
