package domain

import "time"

// Document is one OCR'd capture in the source directory. A path is a
// permanent identity once observed: a document is never re-embedded, even
// if the file content changes afterwards.
type Document struct {
	Path    string
	ModTime time.Time
}

// Result is a single hybrid-search result. Keyword results carry only
// Content; semantic results additionally carry the resolved Path and the
// raw score reported by the vector index.
type Result struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Path    string  `json:"path,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Result sources.
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
)

// CycleState names the phases of an indexing cycle.
type CycleState string

const (
	StateLoad       CycleState = "LOAD"
	StateReconcile  CycleState = "RECONCILE"
	StateEmbedBatch CycleState = "EMBED_BATCH"
	StateCommit     CycleState = "COMMIT"
	StateDone       CycleState = "DONE"
	StateFailed     CycleState = "FAILED"
)

// CycleReport summarizes one indexing cycle.
type CycleReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed"`
	State        CycleState    `json:"state"`
	Discovered   int           `json:"discovered"`    // unseen documents found
	Embedded     int           `json:"embedded"`      // documents actually embedded
	SkippedEmpty int           `json:"skipped_empty"` // empty/whitespace-only, never retried
	Failed       int           `json:"failed"`        // per-document or batch failures, retried next cycle
	TotalVectors int           `json:"total_vectors"` // index size after the cycle
	DryRun       bool          `json:"dry_run,omitempty"`
}

// IndexStats describes the current state of the index for status surfaces.
type IndexStats struct {
	TotalVectors int          `json:"total_vectors"`
	SkippedDocs  int          `json:"skipped_docs"`
	IndexBytes   int64        `json:"index_bytes"`
	LastCycle    *CycleReport `json:"last_cycle,omitempty"`
}
