// Package canon computes the dedup identity of an article: the normalized URL key,
// a content checksum, and the normalized title used when comparing stories.
//
// NormalizeURL is the only place a dedup key is derived. Every admission path calls it.
package canon

import (
	"encoding/hex"
	"hash/fnv"
	"strings"
	"unicode"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref_src": {},
}

// NormalizeURL maps a raw URL onto its dedup key. It never fails: garbage input yields a
// lower-cased, trimmed variant of itself, and empty input yields "".
//
//	https://WWW.Example.com/a/?utm_source=x -> example.com/a
func NormalizeURL(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ""
	}

	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(key, scheme) {
			key = key[len(scheme):]
			break
		}
	}
	key = strings.TrimPrefix(key, "//")
	key = strings.TrimPrefix(key, "www.")

	if idx := strings.IndexByte(key, '#'); idx >= 0 {
		key = key[:idx]
	}

	path, query, hasQuery := strings.Cut(key, "?")
	path = strings.TrimRight(path, "/")

	if !hasQuery {
		return path
	}

	kept := make([]string, 0, 4)
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		if isTrackingParam(name) {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return path
	}
	return path + "?" + strings.Join(kept, "&")
}

func isTrackingParam(name string) bool {
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	_, ok := trackingQueryKeys[name]
	return ok
}

// SourceDomain returns the host of a URL without scheme, www. prefix, credentials or port.
func SourceDomain(raw string) string {
	key := NormalizeURL(raw)
	host, _, _ := strings.Cut(key, "/")
	host, _, _ = strings.Cut(host, "?")
	if at := strings.LastIndexByte(host, '@'); at >= 0 {
		host = host[at+1:]
	}
	if colon := strings.LastIndexByte(host, ':'); colon >= 0 && !strings.Contains(host[colon:], "]") {
		host = host[:colon]
	}
	return host
}

// Checksum is a cheap FNV-1a hash over title and body. It detects content edits of the
// same URL and is never used to match different URLs.
func Checksum(title, body string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(title)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.TrimSpace(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTitle lower-cases, trims and collapses whitespace.
func NormalizeTitle(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

func WordCount(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(strings.Fields(text))
}
