package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/agent/internal/export"
	"github.com/obsidianstack/spikeqc/agent/internal/loader"
)

// shipFunc hands a finished result to the transport.
type shipFunc func(*compute.Result)

// session pairs a configured session with its loader. err is set when the
// loader could not be built; the session then reports as failed every cycle.
type session struct {
	cfg    config.Session
	loader loader.Loader
	err    error
}

// runner evaluates every configured session once per cycle.
type runner struct {
	engine *compute.Engine
	ship   shipFunc

	mu       sync.Mutex
	sessions []*session
	workers  int
	exports  config.ExportConfig
}

// ship is nil when no server endpoint is configured.
func newRunner(engine *compute.Engine, ship shipFunc) *runner {
	return &runner{engine: engine, ship: ship}
}

// apply installs a (re)loaded agent configuration. Loaders of sessions whose
// configuration did not change are kept so their file fingerprints survive
// the reload; removed sessions are dropped from the engine cache.
func (r *runner) apply(cfg config.AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := make(map[string]*session, len(r.sessions))
	for _, s := range r.sessions {
		prev[s.cfg.ID] = s
	}

	next := make([]*session, 0, len(cfg.Sessions))
	for _, sc := range cfg.Sessions {
		if old, ok := prev[sc.ID]; ok && reflect.DeepEqual(old.cfg, sc) {
			next = append(next, old)
			delete(prev, sc.ID)
			continue
		}
		l, err := loader.New(sc)
		if err != nil {
			slog.Error("session loader unavailable", "session", sc.ID, "err", err)
		} else {
			slog.Info("registered session", "id", sc.ID,
				"recording", sc.Recording.Paths, "sorting", sc.Sorting.Format)
		}
		if _, ok := prev[sc.ID]; ok {
			r.engine.Forget(sc.ID)
			delete(prev, sc.ID)
		}
		next = append(next, &session{cfg: sc, loader: l, err: err})
	}
	for id := range prev {
		r.engine.Forget(id)
		slog.Info("session removed", "id", id)
	}

	if len(next) == 0 {
		slog.Warn("no sessions configured, agent will idle")
	}
	r.sessions = next
	r.workers = cfg.Workers
	r.exports = cfg.Export
}

// cycle loads and evaluates every session with bounded parallelism, writes the
// configured exports and ships the results. Results are returned in session
// order.
func (r *runner) cycle(ctx context.Context, now time.Time) []*compute.Result {
	r.mu.Lock()
	sessions := append([]*session(nil), r.sessions...)
	workers := r.workers
	exp := r.exports
	r.mu.Unlock()

	if workers <= 0 {
		workers = config.DefaultWorkers
	}

	results := make([]*compute.Result, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range sessions {
		g.Go(func() error {
			results[i] = r.evaluate(gctx, s, now)
			return nil
		})
	}
	_ = g.Wait() // evaluate never returns an error

	r.writeExports(exp, results)
	if r.ship != nil {
		for _, res := range results {
			r.ship(res)
		}
	}
	return results
}

func (r *runner) evaluate(ctx context.Context, s *session, now time.Time) *compute.Result {
	if s.err != nil {
		return r.engine.Failed(s.cfg.ID, s.err, now)
	}
	sess, err := s.loader.Load(ctx)
	if err != nil {
		return r.engine.Failed(s.cfg.ID, err, now)
	}
	return r.engine.Process(ctx, sess, now)
}

// writeExports writes local report files. Failed sessions keep their
// previous parquet file.
func (r *runner) writeExports(exp config.ExportConfig, results []*compute.Result) {
	if exp.ParquetDir != "" {
		for _, res := range results {
			if res.ErrorMessage != "" {
				continue
			}
			path := filepath.Join(exp.ParquetDir, res.SessionID+".parquet")
			if err := export.WriteParquet(path, res); err != nil {
				slog.Error("parquet export failed", "session", res.SessionID, "err", err)
			}
		}
	}
	if exp.TextfilePath != "" && len(results) > 0 {
		if err := export.WriteTextfile(exp.TextfilePath, results); err != nil {
			slog.Error("textfile export failed", "err", err)
		}
	}
}
