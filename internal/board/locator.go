// Package board provides imageboard URL interpretation and the JSON API
// client used to discover downloadable media.
package board

import (
	"net/url"
	"strings"
)

// Kind identifies what a parsed URL points at
type Kind int

const (
	KindBoard   Kind = iota // board root, e.g. /wg/
	KindThread              // single thread, e.g. /wg/thread/123456
	KindCatalog             // board catalog, e.g. /wg/catalog
)

func (k Kind) String() string {
	switch k {
	case KindThread:
		return "thread"
	case KindCatalog:
		return "catalog"
	default:
		return "board"
	}
}

// Locator is the parsed, immutable representation of a user-supplied URL.
// ThreadID is set iff Kind == KindThread.
type Locator struct {
	Board    string
	Kind     Kind
	ThreadID string
}

// Label returns a short human-readable origin label for progress events.
func (l *Locator) Label() string {
	switch l.Kind {
	case KindThread:
		return "/" + l.Board + "/" + l.ThreadID
	case KindCatalog:
		return "/" + l.Board + "/catalog"
	default:
		return "/" + l.Board + "/"
	}
}

// ParseLocator parses a raw URL string into a Locator. A missing scheme is
// tolerated by assuming https. The host must be exactly rootDomain or a
// subdomain of it; a host that merely contains the domain as a substring is
// rejected. Returns nil on malformed input or a disallowed host, never an
// error.
func ParseLocator(raw, rootDomain string) *Locator {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil
	}

	host := strings.ToLower(parsed.Hostname())
	root := strings.ToLower(rootDomain)
	if host != root && !strings.HasSuffix(host, "."+root) {
		return nil
	}

	var segments []string
	for _, p := range strings.Split(parsed.Path, "/") {
		if p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		return nil
	}

	loc := &Locator{Board: segments[0], Kind: KindBoard}

	if len(segments) >= 3 && segments[1] == "thread" {
		id, _, _ := strings.Cut(segments[2], "#")
		if isDigits(id) {
			loc.Kind = KindThread
			loc.ThreadID = id
		}
	} else if len(segments) >= 2 && segments[1] == "catalog" {
		loc.Kind = KindCatalog
	}

	return loc
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
