// Package fetcher probes GitHub for repository metadata before a clone.
//
// Results are cached per repository and concurrent lookups of the same
// repository share one request, so packages published from one monorepo cost
// a single API call.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "asmharvest/internal/github"
)

// RepoInfo is the subset of repository metadata the pipeline uses.
type RepoInfo struct {
	FullName      string `json:"full_name,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Archived      bool   `json:"archived,omitempty"`
	Fork          bool   `json:"fork,omitempty"`
	SizeKB        int    `json:"size_kb,omitempty"`
	Language      string `json:"language,omitempty"`

	// Found is false when GitHub answered 404.
	Found bool `json:"found"`
}

type Fetcher struct {
	client *gh.Client
	budget *RequestBudget
	group  Group
	cache  *Cache
}

func NewFetcher(client *gh.Client, budget *RequestBudget) *Fetcher {
	return &Fetcher{
		client: client,
		budget: budget,
		cache:  NewCache(0),
	}
}

func (f *Fetcher) Budget() *RequestBudget {
	return f.budget
}

// Probe returns metadata for owner/repo. A missing repository is reported as
// RepoInfo{Found: false} with a nil error; transport and other API errors are
// returned and not cached.
func (f *Fetcher) Probe(ctx context.Context, owner, repo string) (RepoInfo, error) {
	if ctx == nil {
		return RepoInfo{}, fmt.Errorf("Probe: nil context")
	}
	if f == nil || f.client == nil || f.client.Client == nil {
		return RepoInfo{}, fmt.Errorf("Probe: nil GitHub client (use NewFetcher)")
	}
	if f.budget == nil {
		return RepoInfo{}, fmt.Errorf("Probe: nil request budget (use NewFetcher)")
	}
	owner, repo = strings.TrimSpace(owner), strings.TrimSpace(repo)
	if owner == "" || repo == "" {
		return RepoInfo{}, fmt.Errorf("Probe: owner/repo is required")
	}

	key := strings.ToLower(owner + "/" + repo)
	if info, ok := f.cache.Get(key); ok {
		return info, nil
	}

	info, err, _ := f.group.Do(key, func() (RepoInfo, error) {
		return f.doProbe(ctx, owner, repo)
	})
	if err != nil {
		return RepoInfo{}, err
	}
	f.cache.Set(key, info)
	return info, nil
}

func (f *Fetcher) doProbe(ctx context.Context, owner, repo string) (RepoInfo, error) {
	if err := f.budget.Acquire(ctx); err != nil {
		return RepoInfo{}, err
	}
	r, resp, err := f.client.Client.Repositories.Get(ctx, owner, repo)
	if resp != nil {
		f.budget.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return RepoInfo{FullName: owner + "/" + repo, Found: false}, nil
		}
		return RepoInfo{}, fmt.Errorf("probe %s/%s: %w", owner, repo, err)
	}
	return RepoInfo{
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
		Archived:      r.GetArchived(),
		Fork:          r.GetFork(),
		SizeKB:        r.GetSize(),
		Language:      r.GetLanguage(),
		Found:         true,
	}, nil
}
