// -----------------------------------------------------------------------
// URL Normalization - canonical form used as the deduplication key
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL converts a raw blog URL to its canonical form: fragment
// stripped, scheme and host lower-cased, default ports removed, trailing
// slash removed, duplicate path slashes collapsed, leading "www." removed.
// The query string is preserved byte-for-byte. The result is idempotent
// (NormalizeURL(NormalizeURL(x)) == NormalizeURL(x)) and is the sole key
// used for deduplication and cache lookups.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	host = strings.TrimPrefix(host, "www.")

	// Drop default ports, keep explicit non-default ones
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := collapseSlashes(u.EscapedPath())
	path = strings.TrimSuffix(path, "/")

	normalized := scheme + "://" + host + path
	if u.RawQuery != "" {
		normalized += "?" + u.RawQuery
	}

	return normalized, nil
}

// collapseSlashes reduces runs of '/' in a path to a single slash.
// Encoded slashes (%2F) are left untouched.
func collapseSlashes(path string) string {
	if !strings.Contains(path, "//") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// NormalizeDomain canonicalizes a bare domain the same way NormalizeURL
// canonicalizes a host: lower-cased, no scheme, no "www.", no port, no
// trailing dot.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 {
		// Strip a port suffix but not IPv6 colons
		if !strings.Contains(d, "]") && strings.Count(d, ":") == 1 {
			d = d[:i]
		}
	}
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, ".")
	return d
}

// DomainOf extracts the canonical domain from a normalized URL.
func DomainOf(normalizedURL string) (string, error) {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", normalizedURL, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", normalizedURL)
	}
	return NormalizeDomain(host), nil
}

// DomainMatchesSuffix reports whether host equals registered or is a
// subdomain of it. The match is anchored at a label boundary, so
// "blog.example.com" matches "example.com" while "notexample.com"
// does not.
func DomainMatchesSuffix(host, registered string) bool {
	host = NormalizeDomain(host)
	registered = NormalizeDomain(registered)
	if host == "" || registered == "" {
		return false
	}
	return host == registered || strings.HasSuffix(host, "."+registered)
}

// ParentDomains returns the host followed by each parent domain down to
// the registrable two-label suffix, longest first. Used for
// subdomain-tolerant publisher lookup: the first registered entry in this
// list is the longest suffix match at a label boundary.
func ParentDomains(host string) []string {
	host = NormalizeDomain(host)
	if host == "" {
		return nil
	}
	labels := strings.Split(host, ".")
	var out []string
	for i := 0; i <= len(labels)-2; i++ {
		out = append(out, strings.Join(labels[i:], "."))
	}
	if len(out) == 0 {
		out = append(out, host)
	}
	return out
}
