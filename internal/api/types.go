// Package api holds the command and event contract shared by the backend and
// the client-side coordinators. Field names follow the wire format.
package api

// Commands.
const (
	CmdReadConfig         = "read_config"
	CmdWriteConfig        = "write_config"
	CmdResetConfig        = "reset_config"
	CmdScanPaths          = "scan_paths"
	CmdScanPathsProgress  = "scan_paths_progress"
	CmdBuildIndex         = "build_inverted_index"
	CmdBuildIndexProgress = "build_inverted_index_progress"
	CmdScanAndIndex       = "scan_and_index_pipeline"
	CmdSearchQuery        = "search_query"
	CmdDetectDuplicates   = "detect_duplicates"
	CmdDeleteFileAndIndex = "delete_file_and_index"
	CmdOpenLocation       = "open_location"
	CmdDiagnosticsReport  = "diagnostics_report"
	CmdStartAutoScanNow   = "start_auto_scan_now"
)

// Event streams.
const (
	EventScanProgress  = "scan_progress"
	EventScanDone      = "scan_done"
	EventIndexProgress = "index_progress"
	EventIndexDone     = "index_done"
	EventAutoScanStart = "auto_scan_start"
)

type FileMeta struct {
	Path       string `json:"path"`
	FileName   string `json:"file_name"`
	Ext        string `json:"ext"`
	Size       int64  `json:"size"`
	ModifiedTS int64  `json:"modified_ts"`
}

type ScanOptions struct {
	Roots           []string `json:"roots"`
	ExcludePatterns []string `json:"exclude_patterns"`
	MaxFileSizeMB   *int64   `json:"max_file_size_mb,omitempty"`
	FollowSymlinks  bool     `json:"follow_symlinks"`
}

type IndexOptions struct {
	IndexDir           string `json:"indexDir"`
	EnableContentParse bool   `json:"enable_content_parse"`
}

type SearchFilters struct {
	Ext     []string `json:"ext,omitempty"`
	MinSize *int64   `json:"min_size,omitempty"`
	MaxSize *int64   `json:"max_size,omitempty"`
}

// Empty reports whether no filter is set.
func (f *SearchFilters) Empty() bool {
	return f == nil || (len(f.Ext) == 0 && f.MinSize == nil && f.MaxSize == nil)
}

type SearchRequest struct {
	Query    string         `json:"query"`
	Filters  *SearchFilters `json:"filters"`
	IndexDir string         `json:"indexDir"`
}

type SearchResult struct {
	Path       string  `json:"path"`
	Name       string  `json:"name"`
	Ext        string  `json:"ext"`
	Score      float64 `json:"score"`
	Size       *int64  `json:"size,omitempty"`
	ModifiedTS *int64  `json:"modified_ts,omitempty"`
	Summary    string  `json:"summary,omitempty"`
}

type DupKind string

const (
	DupHash DupKind = "hash"
	DupName DupKind = "name"
)

// DupGroup is a set of at least two files sharing a content hash or a file name.
type DupGroup struct {
	Kind  DupKind  `json:"kind"`
	Key   string   `json:"key"`
	Files []string `json:"files"`
}

type DiagnosticsReport struct {
	IndexDir              string   `json:"index_dir"`
	IndexOpenOK           bool     `json:"index_open_ok"`
	IndexDocCount         *int     `json:"index_doc_count,omitempty"`
	SchemaFields          []string `json:"schema_fields,omitempty"`
	ConfigScanRootsCount  int      `json:"config_scan_roots_count"`
	ConfigAutoScanEnabled bool     `json:"config_auto_scan_enabled"`
	PipelineStarted       bool     `json:"pipeline_started"`
	PipelineCompleted     bool     `json:"pipeline_completed"`
	PipelineLastDay       string   `json:"pipeline_last_day,omitempty"`
	SysCPUAvg             *float64 `json:"sys_cpu_avg,omitempty"`
	SysTotalMemKiB        *uint64  `json:"sys_total_mem_kib,omitempty"`
	SysFreeMemKiB         *uint64  `json:"sys_free_mem_kib,omitempty"`
	Warnings              []string `json:"warnings"`
}

type ScanProgress struct {
	Current int    `json:"current"`
	Path    string `json:"path"`
	Name    string `json:"name,omitempty"`
}

type ScanDone struct {
	Total int `json:"total"`
}

type IndexProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total,omitempty"`
	Name    string `json:"name,omitempty"`
	Path    string `json:"path,omitempty"`
}

// IndexDone ends every index build and pipeline run. A failed run carries
// OK false and the error text.
type IndexDone struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type AutoScanStart struct {
	Reason string `json:"reason,omitempty"`
}

// Command argument envelopes. Each command takes a JSON object whose keys
// name its arguments.

type ScanArgs struct {
	Opts ScanOptions `json:"opts"`
}

type BuildIndexArgs struct {
	Files []FileMeta   `json:"files"`
	Opts  IndexOptions `json:"opts"`
}

type PipelineArgs struct {
	Opts      ScanOptions  `json:"opts"`
	IndexOpts IndexOptions `json:"index_opts"`
}

type SearchArgs struct {
	Req SearchRequest `json:"req"`
}

type DetectArgs struct {
	Paths []string `json:"paths"`
}

type DeleteArgs struct {
	Path     string `json:"path"`
	IndexDir string `json:"indexDir"`
}

type OpenLocationArgs struct {
	Path string `json:"path"`
}
