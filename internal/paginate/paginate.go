// Package paginate computes page windows and navigation links. Page
// numbers are 1-based; the window is applied only after filtering,
// sorting and grouping are fully resolved.
package paginate

import (
	"fmt"

	"github.com/hanpama/restframe/internal/resterr"
)

// Config is the server-side pagination policy.
type Config struct {
	// DefaultSize applies when the client does not request a size.
	// 0 means no default: an unspecified size yields all rows.
	DefaultSize int
	// MaxSize silently clamps requested sizes. 0 means no maximum.
	MaxSize int
}

// Request is the client's page window request. Zero values mean
// unspecified.
type Request struct {
	Number int
	Size   int
}

// Window is the resolved row window. Limit -1 means unbounded.
type Window struct {
	Limit  int
	Offset int
	Number int
	Size   int
}

// Resolve computes the row window for a request under the configured
// policy. An explicit non-positive page number or size is rejected.
func Resolve(req Request, cfg Config) (Window, error) {
	if req.Number < 0 || (req.Number == 0 && req.Size < 0) {
		return Window{}, resterr.MalformedQuery("page number must be a positive integer")
	}
	if req.Size < 0 {
		return Window{}, resterr.MalformedQuery("page size must be a positive integer")
	}
	number := req.Number
	if number == 0 {
		number = 1
	}
	size := req.Size
	if size == 0 {
		size = cfg.DefaultSize
	}
	if cfg.MaxSize > 0 && (size == 0 || size > cfg.MaxSize) {
		size = cfg.MaxSize
	}
	if size == 0 {
		// Pagination disabled server-side: one page with everything.
		return Window{Limit: -1, Offset: 0, Number: 1, Size: 0}, nil
	}
	return Window{
		Limit:  size,
		Offset: (number - 1) * size,
		Number: number,
		Size:   size,
	}, nil
}

// Links are the navigation links of a paginated collection document.
// Empty strings mean the link is absent.
type Links struct {
	Self  string
	First string
	Last  string
	Next  string
	Prev  string
}

// BuildLinks renders navigation links for a resolved window over total
// matching rows. base is the collection URL without page parameters.
func BuildLinks(base string, total int, w Window) Links {
	if w.Size == 0 {
		return Links{Self: base}
	}
	last := (total + w.Size - 1) / w.Size
	if last < 1 {
		last = 1
	}
	page := func(n int) string {
		return fmt.Sprintf("%s?page[number]=%d&page[size]=%d", base, n, w.Size)
	}
	links := Links{
		Self:  page(w.Number),
		First: page(1),
		Last:  page(last),
	}
	if w.Number < last {
		links.Next = page(w.Number + 1)
	}
	if w.Number > 1 {
		links.Prev = page(w.Number - 1)
	}
	return links
}
