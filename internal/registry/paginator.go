package registry

import (
	"context"
	"fmt"
)

// Pager is the page source used by Paginator.
type Pager interface {
	Page(ctx context.Context, page int) ([]PackageRef, error)
}

// Paginator requests the half-open page range [StartPage, EndPage).
//
// With StartPage 1 and EndPage n this requests pages 1..n-1, so a run for
// n pages yields at most (n-1)*per_page packages.
type Paginator struct {
	Pager     Pager
	StartPage int
	EndPage   int
}

// Fetch returns every package listed on the requested pages in registry order.
// Any page failure aborts the fetch: the result is empty and the error names
// the failing page. No page is retried.
func (p Paginator) Fetch(ctx context.Context) ([]PackageRef, error) {
	if p.Pager == nil {
		return nil, fmt.Errorf("paginator: pager is nil")
	}
	if p.StartPage < 1 {
		return nil, fmt.Errorf("paginator: start page must be >= 1, got %d", p.StartPage)
	}

	var refs []PackageRef
	for page := p.StartPage; page < p.EndPage; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := p.Pager.Page(ctx, page)
		if err != nil {
			return nil, err
		}
		refs = append(refs, got...)
	}
	return refs, nil
}

// Pages returns how many page requests Fetch will issue.
func (p Paginator) Pages() int {
	if p.EndPage <= p.StartPage {
		return 0
	}
	return p.EndPage - p.StartPage
}
