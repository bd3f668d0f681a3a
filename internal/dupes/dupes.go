// Package dupes drives duplicate review: detection over the scanned file
// set, filtering by group kind and deleting one file at a time.
package dupes

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/invoke"
	"github.com/mgomes/sefind/internal/logging"
	"github.com/mgomes/sefind/internal/pipeline"
)

// Filter selects which groups Visible returns.
type Filter string

const (
	All    Filter = "all"
	ByHash Filter = "hash"
	ByName Filter = "name"
)

// Phase says what Detect is doing.
type Phase string

const (
	PhaseIdle      Phase = ""
	PhaseScanning  Phase = "scanning"
	PhaseAnalyzing Phase = "analyzing"
)

type View struct {
	Groups []api.DupGroup
	Phase  Phase
	Status string
	Err    error
}

type Coordinator struct {
	client   *invoke.Client
	pipe     *pipeline.Controller
	observer func(View)

	mu       sync.Mutex
	scanOpts api.ScanOptions
	indexDir string
	groups   []api.DupGroup
	phase    Phase
	status   string
	err      error
}

// New returns a coordinator that borrows pipe's scan cache.
func New(client *invoke.Client, pipe *pipeline.Controller, observer func(View)) *Coordinator {
	return &Coordinator{client: client, pipe: pipe, observer: observer}
}

// Configure sets the scan used when nothing is cached and the index the
// deletions are applied to.
func (c *Coordinator) Configure(opts api.ScanOptions, indexDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanOpts = opts
	c.indexDir = indexDir
}

// Detect finds duplicate groups over the cached scan, scanning first when
// there is none.
func (c *Coordinator) Detect(ctx context.Context) ([]api.DupGroup, error) {
	var files []api.FileMeta
	if c.pipe.HasScan() {
		files = c.pipe.Files()
	} else {
		c.setPhase(PhaseScanning, "scanning files...")
		c.mu.Lock()
		opts := c.scanOpts
		c.mu.Unlock()

		var err error
		files, err = c.pipe.Scan(ctx, opts)
		if err != nil {
			c.fail("scan_paths", err)
			return nil, err
		}
	}

	if len(files) == 0 {
		c.mu.Lock()
		c.groups = nil
		c.phase = PhaseIdle
		c.err = nil
		c.status = "no files to analyze"
		c.notifyLocked()
		c.mu.Unlock()
		return nil, nil
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	c.setPhase(PhaseAnalyzing, fmt.Sprintf("analyzing %d files...", len(paths)))
	groups, err := c.client.DetectDuplicates(ctx, paths)
	if err != nil {
		c.fail(api.CmdDetectDuplicates, err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = groups
	c.phase = PhaseIdle
	c.err = nil
	c.status = fmt.Sprintf("%d duplicate groups", len(groups))
	c.notifyLocked()
	return slices.Clone(groups), nil
}

// Visible returns the cached groups matching f.
func (c *Coordinator) Visible(f Filter) []api.DupGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FilterGroups(c.groups, f)
}

func FilterGroups(groups []api.DupGroup, f Filter) []api.DupGroup {
	var out []api.DupGroup
	for _, g := range groups {
		if f == All || f == "" || string(g.Kind) == string(f) {
			out = append(out, g)
		}
	}
	return out
}

// Delete removes path on disk and from the index, then drops it from every
// cached group without running detection again.
func (c *Coordinator) Delete(ctx context.Context, path string) error {
	c.mu.Lock()
	indexDir := c.indexDir
	c.mu.Unlock()

	if err := c.client.DeleteFileAndIndex(ctx, path, indexDir); err != nil {
		c.fail(api.CmdDeleteFileAndIndex, err, "path", path)
		return err
	}

	c.pipe.Forget(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = Prune(c.groups, path)
	c.err = nil
	c.status = "deleted " + path
	c.notifyLocked()
	return nil
}

// Prune returns groups with path removed, leaving out groups that end up
// with fewer than two files. The input is not modified.
func Prune(groups []api.DupGroup, path string) []api.DupGroup {
	out := make([]api.DupGroup, 0, len(groups))
	for _, g := range groups {
		files := make([]string, 0, len(g.Files))
		for _, f := range g.Files {
			if f != path {
				files = append(files, f)
			}
		}
		if len(files) <= 1 {
			continue
		}
		g.Files = files
		out = append(out, g)
	}
	return out
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Coordinator) setPhase(p Phase, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
	c.status = status
	c.notifyLocked()
}

func (c *Coordinator) fail(tag string, err error, kv ...any) {
	c.mu.Lock()
	c.phase = PhaseIdle
	c.err = err
	c.status = fmt.Sprintf("%s failed: %v", tag, err)
	c.notifyLocked()
	c.mu.Unlock()
	logging.Failure(tag, err, kv...)
}

func (c *Coordinator) viewLocked() View {
	return View{Groups: slices.Clone(c.groups), Phase: c.phase, Status: c.status, Err: c.err}
}

func (c *Coordinator) notifyLocked() {
	if c.observer != nil {
		c.observer(c.viewLocked())
	}
}
