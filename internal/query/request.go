package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/mgomes/sefind/internal/api"
)

// Input is what the user typed into the search form. Size bounds are in
// megabytes.
type Input struct {
	Query string
	Ext   string
	MinMB string
	MaxMB string
}

// BuildRequest turns form input into a search request. Bounds that are
// blank or not numbers are left out; filters are nil when nothing is set.
func BuildRequest(in Input, indexDir string) api.SearchRequest {
	f := &api.SearchFilters{
		Ext:     ParseCSV(in.Ext),
		MinSize: MegabytesToBytes(in.MinMB),
		MaxSize: MegabytesToBytes(in.MaxMB),
	}
	if f.Empty() {
		f = nil
	}
	return api.SearchRequest{Query: in.Query, Filters: f, IndexDir: indexDir}
}

// MegabytesToBytes parses s as megabytes and returns the rounded byte
// count, or nil when s is blank, not a finite number, or too large for an int64.
func MegabytesToBytes(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	mb, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(mb) || math.IsInf(mb, 0) {
		return nil
	}
	v := math.Floor(mb*1024*1024 + 0.5)
	// Bounds that do not fit a byte count are treated like any other
	// unusable input.
	if v >= math.MaxInt64 || v < math.MinInt64 {
		return nil
	}
	b := int64(v)
	return &b
}

// ParseCSV splits a comma separated list, trimming entries and dropping
// empty ones.
func ParseCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
