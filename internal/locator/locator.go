// Package locator decides how a package's source repository is obtained from
// the raw repository URL published in the registry.
//
// Classification is purely syntactic: no network access is needed.
package locator

import (
	"net/url"
	"strings"
)

type Kind int

const (
	KindUnresolvable Kind = iota
	KindDirect
	KindSubdirectory
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindSubdirectory:
		return "subdirectory"
	default:
		return "unresolvable"
	}
}

// Location is the resolved form of a repository URL.
//
// CloneURL keeps the shape of the input (a scheme-less input yields a
// scheme-less CloneURL); use GitURL for the value handed to git.
type Location struct {
	Kind      Kind
	CloneURL  string
	InnerPath string
}

func (l Location) Resolvable() bool {
	return l.Kind != KindUnresolvable
}

// GitURL returns CloneURL with an https scheme added when the input had none.
func (l Location) GitURL() string {
	if l.CloneURL == "" {
		return ""
	}
	return withScheme(l.CloneURL)
}

// Host returns the lower-cased host of the clone URL, or "" when unknown.
func (l Location) Host() string {
	u, err := parse(l.CloneURL)
	if err != nil {
		return ""
	}
	return normalizeHost(u.Hostname())
}

// OwnerRepo returns the first two path components of the clone URL.
func (l Location) OwnerRepo() (owner, repo string, ok bool) {
	u, err := parse(l.CloneURL)
	if err != nil {
		return "", "", false
	}
	parts := splitPath(u.Path)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

func (l Location) String() string {
	switch l.Kind {
	case KindDirect:
		return "direct " + l.CloneURL
	case KindSubdirectory:
		return "subdirectory " + l.CloneURL + " -> " + l.InnerPath
	default:
		return "unresolvable"
	}
}

// directHosts are hosts whose repository root is always host/owner/repo.
var directHosts = map[string]struct{}{
	"github.com":    {},
	"gitlab.com":    {},
	"bitbucket.org": {},
	"codeberg.org":  {},
	"git.sr.ht":     {},
	"gitea.com":     {},
}

// refMarkers are browser-URL segments that name a ref rather than a path.
// "-" is GitLab's separator in /-/tree/<ref>/ URLs.
var refMarkers = map[string]struct{}{
	"tree":   {},
	"master": {},
	"main":   {},
	"-":      {},
}

// rootSegments is the number of '/'-separated segments that make up a
// repository root for a scheme-ful URL: "https:", "", host, owner, repo.
const rootSegments = 5

func Resolve(raw string) Location {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{Kind: KindUnresolvable}
	}

	u, err := parse(raw)
	if err != nil || !strings.Contains(u.Hostname(), ".") {
		return Location{Kind: KindUnresolvable}
	}
	switch u.Scheme {
	case "http", "https", "git", "ssh":
	default:
		return Location{Kind: KindUnresolvable}
	}

	// Normalize away trailing slashes and fragments before counting segments.
	trimmed := strings.TrimRight(stripSuffixes(raw), "/")
	_, known := directHosts[normalizeHost(u.Hostname())]
	if known && strings.Count(withScheme(trimmed), "/") < rootSegments {
		return Location{Kind: KindDirect, CloneURL: trimmed}
	}

	// Scheme-less input has two fewer leading segments ("https:" and "").
	n := rootSegments
	if !strings.Contains(trimmed, "://") {
		n -= 2
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) <= n {
		return Location{Kind: KindDirect, CloneURL: trimmed}
	}

	root := strings.Join(segments[:n], "/")
	var inner []string
	for _, seg := range segments[n:] {
		if seg == ".." {
			// The inner path must stay inside the clone.
			return Location{Kind: KindUnresolvable}
		}
		if seg == "" || seg == "." {
			continue
		}
		if _, marker := refMarkers[seg]; marker {
			continue
		}
		inner = append(inner, seg)
	}
	if len(inner) == 0 {
		return Location{Kind: KindDirect, CloneURL: root}
	}
	return Location{Kind: KindSubdirectory, CloneURL: root, InnerPath: strings.Join(inner, "/")}
}

func parse(raw string) (*url.URL, error) {
	return url.Parse(withScheme(raw))
}

func withScheme(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

func stripSuffixes(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

func splitPath(p string) []string {
	return strings.FieldsFunc(strings.Trim(p, "/"), func(r rune) bool { return r == '/' })
}
