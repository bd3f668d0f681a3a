// Package query coordinates search-as-you-type: it debounces form input,
// issues one search per quiet period and keeps a sortable view of the
// latest results.
package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/debounce"
	"github.com/mgomes/sefind/internal/invoke"
	"github.com/mgomes/sefind/internal/logging"
)

type SortKey int

const (
	SortScore SortKey = iota
	SortTime
	SortSize
)

func (k SortKey) String() string {
	switch k {
	case SortTime:
		return "time"
	case SortSize:
		return "size"
	default:
		return "score"
	}
}

type SortDir int

const (
	Desc SortDir = iota
	Asc
)

func (d SortDir) String() string {
	if d == Asc {
		return "asc"
	}
	return "desc"
}

// View is a snapshot for rendering. Results are already sorted.
type View struct {
	Input    Input
	Results  []api.SearchResult
	Selected string
	Sort     SortKey
	Dir      SortDir
	Busy     bool
	Status   string
	Err      error
}

type Coordinator struct {
	ctx      context.Context
	client   *invoke.Client
	deb      *debounce.Debouncer
	observer func(View)

	mu       sync.Mutex
	input    Input
	indexDir string
	results  []api.SearchResult
	selected string
	sortKey  SortKey
	sortDir  SortDir
	gen      uint64
	busy     bool
	status   string
	err      error
}

// New returns a coordinator whose debounced searches run under ctx.
// observer, when set, is called after every change and must not block.
func New(ctx context.Context, client *invoke.Client, clock clockwork.Clock, observer func(View)) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		client:   client,
		deb:      debounce.New(clock, debounce.DefaultDelay),
		observer: observer,
		sortKey:  SortScore,
		sortDir:  Desc,
	}
}

func (c *Coordinator) SetIndexDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexDir = dir
}

// SetInput records the form and restarts the quiet period. Nothing is sent
// while the query is blank.
func (c *Coordinator) SetInput(in Input) {
	c.mu.Lock()
	c.input = in
	c.mu.Unlock()
	c.schedule(in)
}

func (c *Coordinator) schedule(in Input) {
	if strings.TrimSpace(in.Query) == "" {
		c.deb.CancelPending()
		return
	}
	c.deb.Schedule(func() {
		_ = c.Search(c.ctx)
	})
}

// Search sends the current input right away. Results of a search that was
// overtaken by a newer one are dropped.
func (c *Coordinator) Search(ctx context.Context) error {
	c.deb.CancelPending()

	c.mu.Lock()
	in := c.input
	req := BuildRequest(in, c.indexDir)
	c.gen++
	gen := c.gen
	c.busy = true
	c.status = "searching..."
	c.notifyLocked()
	c.mu.Unlock()

	results, err := c.client.Search(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.busy = false
	if err != nil {
		c.err = err
		c.status = fmt.Sprintf("search failed: %v", err)
		c.notifyLocked()
		logging.Failure(api.CmdSearchQuery, err, "query", in.Query, "ext", in.Ext, "index_dir", req.IndexDir)
		return err
	}

	c.err = nil
	c.results = results
	c.selected = ""
	if len(results) > 0 {
		c.selected = results[0].Path
	}
	c.status = fmt.Sprintf("%d results", len(results))
	c.notifyLocked()
	return nil
}

// SetSort changes the ordering of the current results without searching
// again.
func (c *Coordinator) SetSort(key SortKey, dir SortDir) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortKey = key
	c.sortDir = dir
	c.notifyLocked()
}

// Sorted returns the last results in the current order.
func (c *Coordinator) Sorted() []api.SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SortResults(c.results, c.sortKey, c.sortDir)
}

// SortResults returns a stably sorted copy of results. Missing sizes and
// times sort as zero.
func SortResults(results []api.SearchResult, key SortKey, dir SortDir) []api.SearchResult {
	out := slices.Clone(results)
	slices.SortStableFunc(out, func(a, b api.SearchResult) int {
		var r int
		switch key {
		case SortTime:
			r = cmp.Compare(deref(a.ModifiedTS), deref(b.ModifiedTS))
		case SortSize:
			r = cmp.Compare(deref(a.Size), deref(b.Size))
		default:
			r = cmp.Compare(a.Score, b.Score)
		}
		if dir == Desc {
			return -r
		}
		return r
	})
	return out
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Select marks path as the current result if it is among the results.
func (c *Coordinator) Select(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if indexOf(c.results, path) < 0 {
		return false
	}
	c.selected = path
	c.notifyLocked()
	return true
}

// Move shifts the selection by delta within the sorted view.
func (c *Coordinator) Move(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sorted := SortResults(c.results, c.sortKey, c.sortDir)
	if len(sorted) == 0 {
		return
	}
	i := indexOf(sorted, c.selected) + delta
	i = max(0, min(i, len(sorted)-1))
	c.selected = sorted[i].Path
	c.notifyLocked()
}

// Selected returns the selected result, if it is still present.
func (c *Coordinator) Selected() (api.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.results, c.selected)
	if i < 0 {
		return api.SearchResult{}, false
	}
	return c.results[i], true
}

func indexOf(results []api.SearchResult, path string) int {
	if path == "" {
		return -1
	}
	return slices.IndexFunc(results, func(r api.SearchResult) bool { return r.Path == path })
}

// Clear empties the query and results and drops any search in flight.
func (c *Coordinator) Clear() {
	c.deb.CancelPending()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.input.Query = ""
	c.results = nil
	c.selected = ""
	c.busy = false
	c.err = nil
	c.status = "query cleared"
	c.notifyLocked()
}

// ResetFilters clears the filters and restores score descending order.
// A non-blank query is searched again after the quiet period.
func (c *Coordinator) ResetFilters() {
	c.mu.Lock()
	c.input.Ext = ""
	c.input.MinMB = ""
	c.input.MaxMB = ""
	c.sortKey = SortScore
	c.sortDir = Desc
	c.status = "filters reset"
	in := c.input
	c.notifyLocked()
	c.mu.Unlock()

	c.schedule(in)
}

// Forget removes path from the results, for example after it was deleted.
func (c *Coordinator) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.results, path)
	if i < 0 {
		return
	}
	c.results = slices.Delete(slices.Clone(c.results), i, i+1)
	if c.selected == path {
		c.selected = ""
	}
	c.notifyLocked()
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) viewLocked() View {
	return View{
		Input:    c.input,
		Results:  SortResults(c.results, c.sortKey, c.sortDir),
		Selected: c.selected,
		Sort:     c.sortKey,
		Dir:      c.sortDir,
		Busy:     c.busy,
		Status:   c.status,
		Err:      c.err,
	}
}

func (c *Coordinator) notifyLocked() {
	if c.observer != nil {
		c.observer(c.viewLocked())
	}
}
