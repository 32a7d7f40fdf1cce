package importer

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/importer/resolve"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one attempted item: a source file that could not be read, a
// scene node, or an asset.
type Entry struct {
	SourceID    string              `json:"source"`
	Item        string              `json:"item"`
	TargetPath  string              `json:"target_path,omitempty"`
	AssetKind   materialize.Kind    `json:"asset_kind,omitempty"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	Outcome     materialize.Outcome `json:"outcome"`
	ErrorKind   ErrorKind           `json:"error_kind,omitempty"`
	// Cause is the human-readable reason for skipped and failed outcomes.
	Cause string `json:"cause,omitempty"`
	Err   error  `json:"-"`
}

// PlacementRecord is a node's world placement as exported in the report.
type PlacementRecord struct {
	NodeID      string      `json:"node"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Location    udk.Vector  `json:"location"`
	World       [16]float64 `json:"world"`
}

// FileResult summarizes one source file.
type FileResult struct {
	SourceID   string                `json:"source"`
	Format     udk.Format            `json:"format"`
	Nodes      int                   `json:"nodes"`
	Placements []PlacementRecord     `json:"placements,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
	References map[resolve.State]int `json:"references,omitempty"`
	Duration   time.Duration         `json:"duration_ns"`
}

// Report is the immutable outcome of one session.
type Report struct {
	SessionID  string       `json:"session_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Cancelled  bool         `json:"cancelled"`
	Entries    []Entry      `json:"entries"`
	Files      []FileResult `json:"files"`
}

// Summary counts entries by outcome.
type Summary struct {
	Total     int                         `json:"total"`
	Created   int                         `json:"created"`
	Skipped   int                         `json:"skipped"`
	Failed    int                         `json:"failed"`
	ByOutcome map[materialize.Outcome]int `json:"by_outcome"`
}

// Summary tallies the report.
func (r *Report) Summary() Summary {
	s := Summary{ByOutcome: map[materialize.Outcome]int{}}
	for _, e := range r.Entries {
		s.Total++
		s.ByOutcome[e.Outcome]++
		switch e.Outcome {
		case materialize.Created:
			s.Created++
		case materialize.Failed:
			s.Failed++
		default:
			s.Skipped++
		}
	}
	return s
}

// EntriesFor returns the entries of one source file.
func (r *Report) EntriesFor(sourceID string) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out
}

// Failures returns every Failed entry.
func (r *Report) Failures() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Outcome == materialize.Failed {
			out = append(out, e)
		}
	}
	return out
}

// File returns the FileResult of sourceID.
func (r *Report) File(sourceID string) (FileResult, bool) {
	for _, f := range r.Files {
		if f.SourceID == sourceID {
			return f, true
		}
	}
	return FileResult{}, false
}

// WriteJSON writes the report, including its summary, as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	doc := struct {
		*Report
		Summary Summary `json:"summary"`
	}{Report: r, Summary: r.Summary()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func entryFromResult(sourceID string, r materialize.Result) Entry {
	e := Entry{
		SourceID:   sourceID,
		Item:       r.Item,
		TargetPath: r.TargetPath,
		AssetKind:  r.Kind,
		Outcome:    r.Outcome,
		Cause:      r.Reason,
		Err:        r.Err,
	}
	if !r.Fingerprint.IsZero() {
		e.Fingerprint = r.Fingerprint.String()
	}
	if r.Err != nil {
		e.ErrorKind = KindOf(r.Err)
		e.Cause = r.Err.Error()
	}
	return e
}

func failedEntry(sourceID, item string, err error) Entry {
	return Entry{
		SourceID:  sourceID,
		Item:      item,
		Outcome:   materialize.Failed,
		ErrorKind: KindOf(err),
		Cause:     err.Error(),
		Err:       err,
	}
}

func placementRecord(p materialize.Placement) PlacementRecord {
	rec := PlacementRecord{NodeID: p.NodeID, Location: p.Location, World: [16]float64(p.World)}
	if !p.Fingerprint.IsZero() {
		rec.Fingerprint = p.Fingerprint.String()
	}
	return rec
}
