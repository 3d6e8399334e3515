package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ReportSchemaVersion identifies the incident report JSON layout.
const ReportSchemaVersion = 1

// Summary aggregates an incident set for the report header.
type Summary struct {
	Total     int            `json:"total"`
	ByLevel   map[string]int `json:"by_level"`
	FirstTick uint64         `json:"first_tick"`
	LastTick  uint64         `json:"last_tick"`
}

// Report is the exportable incident report handed to responders.
type Report struct {
	SchemaVersion int        `json:"schema_version"`
	GeneratedAtNs int64      `json:"generated_at_ns"`
	Summary       Summary    `json:"summary"`
	Incidents     []Incident `json:"incidents"`
}

// BuildReport assembles a report covering the given tick range.
func BuildReport(src Archiver, startTick, endTick uint64) (*Report, error) {
	incidents, err := src.GetByTickRange(startTick, endTick)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}

	r := &Report{
		SchemaVersion: ReportSchemaVersion,
		GeneratedAtNs: time.Now().UnixNano(),
		Summary: Summary{
			Total:   len(incidents),
			ByLevel: make(map[string]int),
		},
		Incidents: incidents,
	}

	for i, inc := range incidents {
		r.Summary.ByLevel[inc.ThreatLevel]++
		if i == 0 || inc.Tick < r.Summary.FirstTick {
			r.Summary.FirstTick = inc.Tick
		}
		if inc.Tick > r.Summary.LastTick {
			r.Summary.LastTick = inc.Tick
		}
	}

	return r, nil
}

// WriteReport serializes a report as indented JSON.
func WriteReport(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
