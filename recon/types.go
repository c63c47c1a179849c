package recon

import "time"

// Envelope is the normalized outcome of one source query. It is produced
// by the executor for every dispatch — success or failure — and is
// immutable once returned.
//
// Data always carries at least a "found" boolean; failed queries also
// carry an "error" string. Everything else is category-specific and
// opaque to the engine.
type Envelope struct {
	SourceID   string         `json:"source_id"`
	SourceName string         `json:"source_name"`
	Query      string         `json:"query"`
	SearchType string         `json:"search_type"`
	Confidence int            `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data"`
}

// Found reports whether the envelope represents a successful query whose
// payload located something.
func (e Envelope) Found() bool {
	if !e.Success {
		return false
	}
	found, _ := e.Data["found"].(bool)
	return found
}

// Summary holds the aggregate counters of one report.
// Invariant: SuccessfulSources + FailedSources == len(Report.Sources),
// and DataFound is true iff at least one successful envelope found data.
type Summary struct {
	TotalSources      int  `json:"total_sources"`
	SuccessfulSources int  `json:"successful_sources"`
	FailedSources     int  `json:"failed_sources"`
	DataFound         bool `json:"data_found"`
}

// Report is the consolidated outcome of one aggregation run. It is built
// once per query and holds no history of previous runs.
type Report struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	SearchType string     `json:"search_type"`
	Timestamp  time.Time  `json:"timestamp"`
	Sources    []Envelope `json:"sources"`
	Summary    Summary    `json:"summary"`
}

// summarize computes the Summary from a set of envelopes. The result
// depends only on the set, not on collection order.
func summarize(envelopes []Envelope) Summary {
	s := Summary{TotalSources: len(envelopes)}
	for _, e := range envelopes {
		if e.Success {
			s.SuccessfulSources++
			if e.Found() {
				s.DataFound = true
			}
		} else {
			s.FailedSources++
		}
	}
	return s
}
