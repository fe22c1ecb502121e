package browser

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultHostDomains are the domains the guest page is served from.
var DefaultHostDomains = []string{"cloudbeds.com"}

// HostMatcher decides whether a page URL belongs to the host application
type HostMatcher struct {
	domains map[string]bool
}

// NewHostMatcher creates a matcher for the given domains and their subdomains
func NewHostMatcher(domains []string) *HostMatcher {
	m := &HostMatcher{domains: make(map[string]bool)}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "www.")
		if d == "" {
			continue
		}
		m.domains[d] = true
		m.domains["www."+d] = true
	}
	return m
}

// Match checks if the URL is on a known host domain. It returns the matched
// domain, or the URL's host when nothing matched.
func (m *HostMatcher) Match(pageURL string) (bool, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false, "", fmt.Errorf("invalid URL: %w", err)
	}

	host := strings.ToLower(parsed.Hostname())
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false, host, nil
	}

	// Check exact match
	if m.domains[host] {
		return true, host, nil
	}

	// Check if it's a subdomain of a known domain
	for domain := range m.domains {
		if strings.HasSuffix(host, "."+domain) {
			return true, domain, nil
		}
	}

	return false, host, nil
}

// Allowed is Match without the details.
func (m *HostMatcher) Allowed(pageURL string) bool {
	ok, _, err := m.Match(pageURL)
	return ok && err == nil
}
