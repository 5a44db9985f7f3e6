package fetcher

import (
	"golang.org/x/sync/singleflight"
)

// Group collapses concurrent probes of the same repository into one request.
type Group struct {
	g singleflight.Group
}

func (g *Group) Do(key string, fn func() (RepoInfo, error)) (RepoInfo, error, bool) {
	v, err, shared := g.g.Do(key, func() (any, error) {
		return fn()
	})
	info, _ := v.(RepoInfo)
	return info, err, shared
}
