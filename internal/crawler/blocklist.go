package crawler

import (
	"net/url"
	"slices"
	"strings"
)

// hostBlocklist matches hosts against exact names and "*.suffix" or ".suffix"
// wildcards taken from crawler.blocked_domains.
type hostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostBlocklist(patterns []string) *hostBlocklist {
	bl := &hostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		value = strings.TrimPrefix(strings.TrimPrefix(value, "*"), ".")
		if value == "" {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(raw), "*.") || strings.HasPrefix(strings.TrimSpace(raw), ".") {
			if !slices.Contains(bl.suffixes, value) {
				bl.suffixes = append(bl.suffixes, value)
			}
			continue
		}
		bl.exact[value] = struct{}{}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

// blockedHost reports whether host is on the list. A nil list blocks nothing.
func (b *hostBlocklist) blockedHost(host string) bool {
	if b == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// blockedURL applies blockedHost to the hostname of rawURL.
func (b *hostBlocklist) blockedURL(rawURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return b.blockedHost(u.Hostname())
}
