package invoke

import (
	"context"

	"github.com/mgomes/sefind/internal/api"
	"github.com/mgomes/sefind/internal/config"
)

// Client wraps the gateway with one typed method per backend command.
type Client struct {
	g *Gateway
}

func NewClient(g *Gateway) *Client {
	return &Client{g: g}
}

func (c *Client) Gateway() *Gateway {
	return c.g
}

// ConfigArgs is the write_config payload.
type ConfigArgs struct {
	Cfg *config.Config `json:"cfg"`
}

func (c *Client) ReadConfig(ctx context.Context) (*config.Config, error) {
	return Call[*config.Config](ctx, c.g, c.g.Request(api.CmdReadConfig, nil))
}

func (c *Client) WriteConfig(ctx context.Context, cfg *config.Config) (*config.Config, error) {
	return Call[*config.Config](ctx, c.g, c.g.Request(api.CmdWriteConfig, ConfigArgs{Cfg: cfg}))
}

func (c *Client) ResetConfig(ctx context.Context) (*config.Config, error) {
	return Call[*config.Config](ctx, c.g, c.g.Request(api.CmdResetConfig, nil))
}

func (c *Client) ScanPaths(ctx context.Context, opts api.ScanOptions) ([]api.FileMeta, error) {
	return Call[[]api.FileMeta](ctx, c.g, c.g.Request(api.CmdScanPaths, api.ScanArgs{Opts: opts}))
}

// ScanPathsProgress scans like ScanPaths and publishes scan_progress and
// scan_done while it runs.
func (c *Client) ScanPathsProgress(ctx context.Context, opts api.ScanOptions) ([]api.FileMeta, error) {
	return Call[[]api.FileMeta](ctx, c.g, c.g.Request(api.CmdScanPathsProgress, api.ScanArgs{Opts: opts}))
}

func (c *Client) BuildIndex(ctx context.Context, files []api.FileMeta, opts api.IndexOptions) error {
	out := c.g.Invoke(ctx, c.g.Request(api.CmdBuildIndex, api.BuildIndexArgs{Files: files, Opts: opts}))
	return out.Err
}

func (c *Client) BuildIndexProgress(ctx context.Context, files []api.FileMeta, opts api.IndexOptions) error {
	out := c.g.Invoke(ctx, c.g.Request(api.CmdBuildIndexProgress, api.BuildIndexArgs{Files: files, Opts: opts}))
	return out.Err
}

// ScanAndIndex runs the fused pipeline. Progress arrives on both the scan
// and the index event streams.
func (c *Client) ScanAndIndex(ctx context.Context, opts api.ScanOptions, idx api.IndexOptions) error {
	out := c.g.Invoke(ctx, c.g.Request(api.CmdScanAndIndex, api.PipelineArgs{Opts: opts, IndexOpts: idx}))
	return out.Err
}

func (c *Client) Search(ctx context.Context, req api.SearchRequest) ([]api.SearchResult, error) {
	return Call[[]api.SearchResult](ctx, c.g, c.g.Request(api.CmdSearchQuery, api.SearchArgs{Req: req}))
}

func (c *Client) DetectDuplicates(ctx context.Context, paths []string) ([]api.DupGroup, error) {
	return Call[[]api.DupGroup](ctx, c.g, c.g.Request(api.CmdDetectDuplicates, api.DetectArgs{Paths: paths}))
}

func (c *Client) DeleteFileAndIndex(ctx context.Context, path, indexDir string) error {
	out := c.g.Invoke(ctx, c.g.Request(api.CmdDeleteFileAndIndex, api.DeleteArgs{Path: path, IndexDir: indexDir}))
	return out.Err
}

func (c *Client) OpenLocation(ctx context.Context, path string) error {
	out := c.g.Invoke(ctx, c.g.Request(api.CmdOpenLocation, api.OpenLocationArgs{Path: path}))
	return out.Err
}

func (c *Client) Diagnostics(ctx context.Context) (*api.DiagnosticsReport, error) {
	return Call[*api.DiagnosticsReport](ctx, c.g, c.g.Request(api.CmdDiagnosticsReport, nil))
}

func (c *Client) StartAutoScanNow(ctx context.Context) error {
	out := c.g.Invoke(ctx, c.g.Request(api.CmdStartAutoScanNow, nil))
	return out.Err
}
