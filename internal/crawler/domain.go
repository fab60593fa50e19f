package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalDomain returns the lower-cased host of rawURL without a leading
// "www." and without a port.
func CanonicalDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", E(KindInvalidInput, "crawler.CanonicalDomain", fmt.Errorf("parse url: %w", err))
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", E(KindInvalidInput, "crawler.CanonicalDomain", fmt.Errorf("url %q has no host", rawURL))
	}
	return strings.TrimPrefix(host, "www."), nil
}

// EnemyName derives a display name from a canonical domain: the label before
// the top-level domain ("shop.example.com" gives "example"). A single-label
// domain is returned unchanged.
func EnemyName(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}
	return labels[len(labels)-2]
}
