// Package pipeline tracks a scan followed by an index build as one state
// machine fed by command results and backend progress events.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/events"
	"github.com/mgomes/sefind/internal/invoke"
	"github.com/mgomes/sefind/internal/logging"
)

// ErrBusy is returned by Start while a run is in progress.
var ErrBusy = errors.New("pipeline already running")

type State int

const (
	Idle State = iota
	Scanning
	Indexing
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Indexing:
		return "indexing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Progress is a snapshot of the controller.
type Progress struct {
	State        State
	Current      int
	Total        int
	LastItem     string
	ScanDir      string
	LastScanSize int
	Running      bool
	Err          error
	Status       string
}

// Options are the arguments of one run. Fused selects the single
// scan_and_index_pipeline command over a scan followed by an index build.
type Options struct {
	Fused bool
	Scan  api.ScanOptions
	Index api.IndexOptions
}

type Controller struct {
	client   *invoke.Client
	observer func(Progress)

	mu    sync.Mutex
	p     Progress
	files []api.FileMeta
	run   uint64
	// background is set while a run this controller did not start is
	// being followed.
	background bool
}

// New returns an idle controller. observer, when set, receives a snapshot
// after every change and must not block.
func New(client *invoke.Client, observer func(Progress)) *Controller {
	return &Controller{client: client, observer: observer}
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p
}

// Files returns the file list of the last completed scan.
func (c *Controller) Files() []api.FileMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.FileMeta(nil), c.files...)
}

// HasScan reports whether a scan result is cached.
func (c *Controller) HasScan() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files != nil
}

// Forget drops path from the cached scan.
func (c *Controller) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.files[:0]
	for _, f := range c.files {
		if f.Path != path {
			kept = append(kept, f)
		}
	}
	c.files = kept
	c.p.LastScanSize = len(c.files)
}

// Start runs the pipeline and blocks until the commands return. It may be
// called from Idle or any terminal state.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	if c.p.Running {
		c.mu.Unlock()
		return ErrBusy
	}
	c.run++
	run := c.run
	c.background = false
	c.p = Progress{
		State:        Scanning,
		Running:      true,
		LastScanSize: c.p.LastScanSize,
		Status:       "scanning",
	}
	c.notifyLocked()
	c.mu.Unlock()

	var err error
	if opts.Fused {
		err = c.client.ScanAndIndex(ctx, opts.Scan, opts.Index)
	} else {
		err = c.scanThenIndex(ctx, run, opts)
	}

	if err != nil {
		c.fail(run, err)
		return err
	}
	c.complete(run)
	return nil
}

func (c *Controller) scanThenIndex(ctx context.Context, run uint64, opts Options) error {
	files, err := c.client.ScanPathsProgress(ctx, opts.Scan)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if run != c.run {
		c.mu.Unlock()
		return nil
	}
	c.files = files
	c.enterIndexingLocked(len(files))
	c.mu.Unlock()

	return c.client.BuildIndexProgress(ctx, files, opts.Index)
}

// Scan runs a plain scan outside the state machine and caches its result.
func (c *Controller) Scan(ctx context.Context, opts api.ScanOptions) ([]api.FileMeta, error) {
	files, err := c.client.ScanPaths(ctx, opts)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []api.FileMeta{}
	}

	c.mu.Lock()
	c.files = files
	c.p.LastScanSize = len(files)
	c.notifyLocked()
	c.mu.Unlock()
	return append([]api.FileMeta(nil), files...), nil
}

func (c *Controller) fail(run uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run != c.run {
		return
	}
	c.p.State = Failed
	c.p.Running = false
	c.p.Err = err
	c.p.Status = err.Error()
	c.notifyLocked()
	logging.Failure("pipeline", err)
}

func (c *Controller) complete(run uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run != c.run || c.p.State == Failed {
		return
	}
	c.completeLocked()
}

func (c *Controller) completeLocked() {
	if c.p.State == Completed && !c.p.Running {
		return
	}
	c.p.State = Completed
	c.p.Running = false
	c.p.Err = nil
	c.p.Status = "index complete"
	c.notifyLocked()
}

func (c *Controller) enterIndexingLocked(total int) {
	c.p.State = Indexing
	c.p.Current = 0
	c.p.Total = total
	c.p.LastScanSize = total
	c.p.Status = fmt.Sprintf("scan complete: %d files", total)
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	if c.observer != nil {
		c.observer(c.p)
	}
}

// Subscriptions lists the streams the controller consumes. Progress
// streams come before the completion streams they lead up to.
func (c *Controller) Subscriptions() []events.Request {
	return []events.Request{
		events.On(api.EventScanProgress, c.onScanProgress),
		events.On(api.EventIndexProgress, c.onIndexProgress),
		events.On(api.EventScanDone, c.onScanDone),
		events.On(api.EventIndexDone, c.onIndexDone),
		events.On(api.EventAutoScanStart, c.onAutoScanStart),
	}
}

func (c *Controller) onScanProgress(raw json.RawMessage) {
	var ev api.ScanProgress
	if err := json.Unmarshal(raw, &ev); err != nil {
		logging.Failure("event:"+api.EventScanProgress, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.followLocked() {
		return
	}
	if c.p.State != Scanning {
		c.p.State = Scanning
		c.p.Err = nil
	}
	c.p.Current = ev.Current
	if ev.Path != "" {
		c.p.ScanDir = ParentDir(ev.Path)
		c.p.LastItem = ev.Path
	}
	c.p.Status = fmt.Sprintf("scanning: %d files", ev.Current)
	c.notifyLocked()
}

func (c *Controller) onScanDone(raw json.RawMessage) {
	var ev api.ScanDone
	if err := json.Unmarshal(raw, &ev); err != nil {
		logging.Failure("event:"+api.EventScanDone, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.p.State {
	case Scanning:
		c.p.Running = true
		c.enterIndexingLocked(ev.Total)
	case Indexing:
		// Fused runs index while scanning; the total is known only now.
		c.p.Total = ev.Total
		c.p.LastScanSize = ev.Total
		c.notifyLocked()
	}
}

func (c *Controller) onIndexProgress(raw json.RawMessage) {
	var ev api.IndexProgress
	if err := json.Unmarshal(raw, &ev); err != nil {
		logging.Failure("event:"+api.EventIndexProgress, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.followLocked() {
		return
	}
	c.p.State = Indexing
	c.p.Err = nil
	c.p.Current = ev.Current
	// The fused pipeline does not know the total up front.
	if ev.Total > 0 {
		c.p.Total = ev.Total
	}
	c.p.LastItem = ev.Name
	if c.p.Total > 0 {
		c.p.Status = fmt.Sprintf("indexing: %d/%d %s", ev.Current, c.p.Total, ev.Name)
	} else {
		c.p.Status = fmt.Sprintf("indexing: %d %s", ev.Current, ev.Name)
	}
	c.notifyLocked()
}

func (c *Controller) onIndexDone(raw json.RawMessage) {
	var ev api.IndexDone
	if err := json.Unmarshal(raw, &ev); err != nil {
		logging.Failure("event:"+api.EventIndexDone, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.background = false
	if c.p.State != Scanning && c.p.State != Indexing {
		return
	}
	if !ev.OK {
		err := errors.New(ev.Error)
		if ev.Error == "" {
			err = errors.New("index run failed")
		}
		c.p.State = Failed
		c.p.Running = false
		c.p.Err = err
		c.p.Status = err.Error()
		c.notifyLocked()
		logging.Failure("pipeline", err)
		return
	}
	c.completeLocked()
}

// followLocked reports whether a progress event belongs to a run the
// controller tracks, and marks it running. Progress arriving from Idle or
// Completed is a background run that started before its announcement was
// seen. After a failure only an announced run is followed, so a run that
// was given up on cannot take the controller back.
func (c *Controller) followLocked() bool {
	switch {
	case c.p.Running || c.background:
	case c.p.State == Idle || c.p.State == Completed:
		c.background = true
	default:
		return false
	}
	c.p.Running = true
	return true
}

// onAutoScanStart only changes the status line. The view the user is on
// stays where it is.
func (c *Controller) onAutoScanStart(raw json.RawMessage) {
	var ev api.AutoScanStart
	_ = json.Unmarshal(raw, &ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.p.Running {
		c.background = true
	}
	if ev.Reason != "" {
		c.p.Status = "auto scan started (" + ev.Reason + ")"
	} else {
		c.p.Status = "auto scan started"
	}
	c.notifyLocked()
}

// ParentDir returns the directory part of a path written with either
// separator. A path without a separator past its first byte is returned
// unchanged.
func ParentDir(p string) string {
	i := strings.LastIndexAny(p, `/\`)
	if i > 0 {
		return p[:i]
	}
	return p
}
