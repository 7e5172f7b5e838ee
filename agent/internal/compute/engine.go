package compute

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/obsidianstack/spikeqc/agent/internal/ephys"
	"github.com/obsidianstack/spikeqc/pkg/types"
)

// Session is one loaded recording/sorting pair ready for analysis.
type Session struct {
	ID        string
	Recording *ephys.Recording
	Sorting   *ephys.Sorting
	Locations ephys.SpikeLocations // optional

	// Fingerprint identifies the input files' content. Sessions with an
	// empty fingerprint are never cached.
	Fingerprint string
}

// Options is the metric configuration applied to every session.
type Options struct {
	Metrics   []string // empty computes every registered metric
	Params    Params
	Noise     NoiseOptions
	Waveforms WaveformOptions
}

// DefaultOptions returns every metric with default parameters.
func DefaultOptions() Options {
	return Options{
		Params:    DefaultParams(),
		Noise:     DefaultNoiseOptions(),
		Waveforms: DefaultWaveformOptions(),
	}
}

// Result is the quality snapshot for one session, ready to be exported and
// handed to the gRPC shipper.
type Result struct {
	ReportID          string
	SessionID         string
	RecordingID       string
	Timestamp         time.Time
	State             string
	Score             float64 // mean score of scored units, NaN when none
	DurationS         float64
	SamplingFrequency float64
	NumChannels       int
	Columns           []string // metric columns present in every unit row
	Units             []UnitResult
	Summary           Summary
	ErrorMessage      string // non-empty when loading or computing failed
	Elapsed           time.Duration
}

// UnitResult is the metric row and verdict of one unit.
type UnitResult struct {
	UnitID  string
	Group   string // electrode group, empty when the sorting has none
	Label   string
	Score   float64
	Metrics map[string]float64
}

// Summary aggregates unit labels.
type Summary struct {
	NumUnits     int
	Good         int
	MUA          int
	Noise        int
	Unknown      int
	GoodFraction float64
	MedianSNR    float64
}

// Engine computes quality results and caches the expensive intermediate
// products (noise levels, waveforms, templates) per session.
//
// All exported methods are safe for concurrent use. Distinct sessions may be
// processed in parallel.
type Engine struct {
	mu    sync.Mutex
	opts  Options
	cache map[string]*cacheEntry
	newID func() string
}

type cacheEntry struct {
	key       string
	noise     []float64
	waveforms *Waveforms
	templates *ephys.Templates
}

// NewEngine returns a ready-to-use Engine.
func NewEngine(opts Options) *Engine {
	return &Engine{
		opts:  opts,
		cache: make(map[string]*cacheEntry),
		newID: uuid.NewString,
	}
}

// SetOptions replaces the metric configuration. Cached entries computed under
// different options are discarded on their next use.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = opts
}

// Options returns the current metric configuration.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// Forget drops the cached products of a session.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, sessionID)
}

// Failed builds the result reported for a session that could not be loaded.
func (e *Engine) Failed(sessionID string, err error, now time.Time) *Result {
	slog.Warn("compute: session failed, marking unknown", "session", sessionID, "err", err)
	return &Result{
		ReportID:     e.newID(),
		SessionID:    sessionID,
		Timestamp:    now,
		State:        types.StateUnknown,
		Score:        math.NaN(),
		Summary:      Summary{GoodFraction: math.NaN(), MedianSNR: math.NaN()},
		ErrorMessage: err.Error(),
	}
}

// Process computes the configured metrics for sess, scores every unit and
// returns the session result.
//
// now is passed explicitly so callers (and tests) control the report
// timestamp. Use time.Now() in production.
//
// Failures never return an error: they produce a Result with State "unknown"
// and a non-empty ErrorMessage.
func (e *Engine) Process(ctx context.Context, sess *Session, now time.Time) *Result {
	started := time.Now()
	opts := e.Options()

	if err := validateSession(sess); err != nil {
		return e.Failed(sess.ID, err, now)
	}

	a := &Analyzer{
		Recording:    sess.Recording,
		Sorting:      sess.Sorting,
		Locations:    sess.Locations,
		NoiseOptions: opts.Noise,
	}

	needsWaveforms, err := NeedsWaveforms(opts.Metrics)
	if err != nil {
		return e.Failed(sess.ID, err, now)
	}

	key := cacheKey(sess.Fingerprint, opts)
	if entry := e.lookup(sess.ID, key); entry != nil {
		slog.Debug("compute: reusing cached waveforms", "session", sess.ID)
		a.Noise = entry.noise
		a.Waveforms = entry.waveforms
		a.Templates = entry.templates
	} else if needsWaveforms {
		wf, err := ExtractWaveforms(ctx, sess.Recording, sess.Sorting, opts.Waveforms, sess.Recording.Scaled())
		if err != nil {
			return e.Failed(sess.ID, err, now)
		}
		tmpl, err := EstimateTemplates(wf, sess.Sorting.UnitIDs, opts.Waveforms.TemplateMode)
		if err != nil {
			return e.Failed(sess.ID, err, now)
		}
		a.Waveforms, a.Templates = wf, tmpl
	}

	table, err := ComputeQualityMetrics(ctx, a, opts.Metrics, opts.Params)
	if err != nil {
		return e.Failed(sess.ID, err, now)
	}
	if sess.Fingerprint != "" && needsWaveforms {
		e.store(sess.ID, &cacheEntry{key: key, noise: a.Noise, waveforms: a.Waveforms, templates: a.Templates})
	}

	cols, _ := Columns(opts.Metrics)
	out := &Result{
		ReportID:          e.newID(),
		SessionID:         sess.ID,
		RecordingID:       sess.Recording.ID,
		Timestamp:         now,
		DurationS:         sess.Recording.TotalDuration(),
		SamplingFrequency: sess.Recording.SamplingFrequency,
		NumChannels:       sess.Recording.NumChannels(),
		Columns:           cols,
	}

	var scores, snrs []float64
	for _, unit := range sess.Sorting.UnitIDs {
		row := table[unit]
		sc := Score(InputFromRow(row))
		out.Units = append(out.Units, UnitResult{
			UnitID:  unit,
			Group:   sess.Sorting.Groups[unit],
			Label:   sc.Label,
			Score:   sc.Score,
			Metrics: row,
		})
		switch sc.Label {
		case types.LabelGood:
			out.Summary.Good++
		case types.LabelMUA:
			out.Summary.MUA++
		case types.LabelNoise:
			out.Summary.Noise++
		default:
			out.Summary.Unknown++
		}
		if !math.IsNaN(sc.Score) {
			scores = append(scores, sc.Score)
		}
		if v, ok := row[MetricSNR]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			snrs = append(snrs, v)
		}
	}
	out.Summary.NumUnits = len(out.Units)
	out.Summary.MedianSNR = median(snrs)
	out.State, out.Summary.GoodFraction = SessionState(out.Summary.Good, out.Summary.MUA, out.Summary.Noise)
	out.Score = mean(scores)
	out.Elapsed = time.Since(started)

	slog.Info("compute: session processed",
		"session", sess.ID,
		"units", out.Summary.NumUnits,
		"good", out.Summary.Good,
		"state", out.State,
		"elapsed", out.Elapsed)
	return out
}

func validateSession(sess *Session) error {
	if sess.Recording == nil || sess.Sorting == nil {
		return fmt.Errorf("compute: session %q has no recording or sorting", sess.ID)
	}
	if err := sess.Recording.Validate(); err != nil {
		return err
	}
	return sess.Sorting.ValidateAgainst(sess.Recording)
}

func (e *Engine) lookup(sessionID, key string) *cacheEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[sessionID]
	if !ok {
		return nil
	}
	if entry.key != key {
		delete(e.cache, sessionID)
		return nil
	}
	return entry
}

func (e *Engine) store(sessionID string, entry *cacheEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[sessionID] = entry
}

// cacheKey covers everything the cached products depend on.
func cacheKey(fingerprint string, opts Options) string {
	if fingerprint == "" {
		return ""
	}
	return fmt.Sprintf("%s|%+v|%+v", fingerprint, opts.Noise, opts.Waveforms)
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}
