package syncer

import (
	"fmt"
	"sync"
)

// BackfillResult tracks counts and errors from a multi-unit backfill. A unit
// is one game or one team.
type BackfillResult struct {
	Entity    string   `json:"entity"`
	Units     int      `json:"units"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Pages     int      `json:"pages"`
	Fetched   int      `json:"fetched"`
	Upserted  int      `json:"upserted"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`

	mu sync.Mutex
}

// Add merges a finished unit into the result.
func (r *BackfillResult) Add(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Succeeded++
	r.Pages += res.Pages
	r.Fetched += res.Fetched
	r.Upserted += res.Upserted
	r.Skipped += res.Skipped
}

// AddErrorf records a failed unit with a formatted message.
func (r *BackfillResult) AddErrorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the backfill.
func (r *BackfillResult) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf(
		"entity=%s units=%d succeeded=%d failed=%d pages=%d fetched=%d upserted=%d skipped=%d",
		r.Entity, r.Units, r.Succeeded, r.Failed, r.Pages, r.Fetched, r.Upserted, r.Skipped,
	)
}
