package importer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Phase names the pipeline stage a Tick reports on.
type Phase string

// Phases, in pipeline order.
const (
	PhaseParse  Phase = "parse"
	PhaseIndex  Phase = "index"
	PhaseBuild  Phase = "build"
	PhasePlan   Phase = "plan"
	PhaseCommit Phase = "commit"
	PhaseDone   Phase = "done"
)

// Tick is one progress update.
type Tick struct {
	SourceID           string
	Phase              Phase
	Files              int
	FilesCompleted     int
	AssetsEstimated    int
	AssetsMaterialized int
}

// Fraction is the completed share of the session in [0, 1]. Files weigh
// half; assets weigh the other half once any are estimated.
func (t Tick) Fraction() float64 {
	if t.Files == 0 {
		return 1
	}
	files := float64(t.FilesCompleted) / float64(t.Files)
	if t.AssetsEstimated == 0 {
		return files
	}
	assets := float64(t.AssetsMaterialized) / float64(t.AssetsEstimated)
	if assets > 1 {
		assets = 1
	}
	return (files + assets) / 2
}

// ProgressSink receives progress, warnings and errors from a Session.
// Calls are serialized by the Session.
type ProgressSink interface {
	Progress(Tick)
	Warn(sourceID, msg string)
	Error(sourceID string, err error)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Progress(Tick)       {}
func (NopSink) Warn(string, string) {}
func (NopSink) Error(string, error) {}

// LogSink writes progress to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

// Progress logs at Debug; phase completions of a file log at Info.
func (s LogSink) Progress(t Tick) {
	pct := int(t.Fraction() * 100)
	fields := []zap.Field{
		zap.String("source", t.SourceID),
		zap.String("phase", string(t.Phase)),
		zap.Int("files_completed", t.FilesCompleted),
		zap.Int("files", t.Files),
		zap.Int("assets_materialized", t.AssetsMaterialized),
		zap.Int("assets_estimated", t.AssetsEstimated),
	}
	if t.Phase == PhaseDone {
		s.Logger.Info(progressLabel(pct), fields...)
		return
	}
	s.Logger.Debug(progressLabel(pct), fields...)
}

func (s LogSink) Warn(sourceID, msg string) {
	s.Logger.Warn(msg, zap.String("source", sourceID))
}

func (s LogSink) Error(sourceID string, err error) {
	s.Logger.Error("import failure", zap.String("source", sourceID), zap.Error(err))
}

func progressLabel(pct int) string {
	return fmt.Sprintf("[%02d%%]", pct)
}

// RecordingSink keeps everything it receives. It is safe for concurrent use.
type RecordingSink struct {
	mu       sync.Mutex
	ticks    []Tick
	warnings []string
	errors   []error
}

func (s *RecordingSink) Progress(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
}

func (s *RecordingSink) Warn(sourceID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, sourceID+": "+msg)
}

func (s *RecordingSink) Error(_ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

// Ticks returns a copy of the recorded ticks.
func (s *RecordingSink) Ticks() []Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tick(nil), s.ticks...)
}

// Warnings returns a copy of the recorded warnings as "source: message".
func (s *RecordingSink) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

// Errors returns a copy of the recorded errors.
func (s *RecordingSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
