// Package urlnorm canonicalizes page URLs so that one logical page maps to
// one aggregation key.
package urlnorm

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/idna"
)

// DefaultCacheSize bounds the memoization caches.
const DefaultCacheSize = 100

// routeHash matches fragments used for client-side routing.
var routeHash = regexp.MustCompile(`^#[/!]`)

// Options controls which URL parts survive normalization.
type Options struct {
	// KeepQuery lists query parameters kept in the normalized form.
	KeepQuery []string
	// KeepHash keeps route-style fragments (#/ or #!).
	KeepHash bool
	// CacheSize bounds each memo cache. Zero means DefaultCacheSize.
	CacheSize int
}

type pair struct{ old, new string }

// Normalizer memoizes Normalize and IsSignificantChange. It is safe for
// concurrent use.
type Normalizer struct {
	opts    Options
	keep    map[string]bool
	norm    *lru.Cache[string, string]
	changes *lru.Cache[pair, bool]
}

// New returns a Normalizer with the given options.
func New(opts Options) *Normalizer {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails on a non-positive size.
	norm, _ := lru.New[string, string](size)
	changes, _ := lru.New[pair, bool](size)

	keep := make(map[string]bool, len(opts.KeepQuery))
	for _, k := range opts.KeepQuery {
		keep[k] = true
	}
	return &Normalizer{opts: opts, keep: keep, norm: norm, changes: changes}
}

var std = New(Options{})

// Normalize canonicalizes raw with the default options.
func Normalize(raw string) string { return std.Normalize(raw) }

// IsSignificantChange reports, with the default options, whether moving
// from old to new is a navigation to a different page.
func IsSignificantChange(old, new string) bool { return std.IsSignificantChange(old, new) }

// Normalize returns origin plus path with the trailing slash trimmed,
// except for the root path. Scheme and host are lowercased, the host is
// IDNA encoded and default ports are dropped. Input that does not parse
// as an absolute URL is returned unchanged.
func (n *Normalizer) Normalize(raw string) string {
	if v, ok := n.norm.Get(raw); ok {
		return v
	}
	v := n.normalize(raw)
	n.norm.Add(raw, v)
	return v
}

func (n *Normalizer) normalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	host := canonicalHost(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)

	if len(n.keep) > 0 {
		q := u.Query()
		for k := range q {
			if !n.keep[k] {
				q.Del(k)
			}
		}
		if enc := q.Encode(); enc != "" {
			b.WriteString("?")
			b.WriteString(enc)
		}
	}
	if n.opts.KeepHash && u.Fragment != "" {
		if frag := "#" + u.EscapedFragment(); routeHash.MatchString(frag) {
			b.WriteString(frag)
		}
	}
	return b.String()
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// IsSignificantChange reports whether old and new name different pages:
// host or path differ, or the fragment changed to a client-side route.
// A fragment change to a plain anchor is not significant.
func (n *Normalizer) IsSignificantChange(old, new string) bool {
	if old == new {
		return false
	}
	key := pair{old, new}
	if v, ok := n.changes.Get(key); ok {
		return v
	}
	v := n.isSignificantChange(old, new)
	n.changes.Add(key, v)
	return v
}

func (n *Normalizer) isSignificantChange(old, new string) bool {
	ou, err1 := url.Parse(old)
	nu, err2 := url.Parse(new)
	if err1 != nil || err2 != nil {
		return true
	}
	if !strings.EqualFold(ou.Host, nu.Host) || trimSlash(ou.Path) != trimSlash(nu.Path) {
		return true
	}
	if ou.Fragment != nu.Fragment && nu.Fragment != "" {
		return routeHash.MatchString("#" + nu.Fragment)
	}
	return false
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

// Hostname returns the lowercased host of raw without port, or "" when
// raw does not parse.
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return canonicalHost(u.Hostname())
}
