package pipeline

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a deterministic membership key for URL or content dedup.
type Fingerprint string

// NormalizeURL standardizes a URL so equivalent spellings dedup together.
// It lowercases the scheme and host, strips default ports and fragments,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// FingerprintURL normalizes and hashes a URL.
func FingerprintURL(rawURL string) (Fingerprint, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return Fingerprint("u:" + hash(normalized)), nil
}

// FingerprintListing hashes the listing's canonical business key so the
// same posting dedups across sites and pages even when URLs differ.
func FingerprintListing(l JobListing) Fingerprint {
	key := strings.ToLower(strings.TrimSpace(l.Title)) + "|" +
		strings.ToLower(strings.TrimSpace(l.Company)) + "|" +
		strings.TrimSpace(l.CanonicalLink)
	return Fingerprint("c:" + hash(key))
}

func hash(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
