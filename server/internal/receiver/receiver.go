package receiver

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/spikeqc/pkg/types"
	"github.com/obsidianstack/spikeqc/server/internal/store"
)

// Archive persists reports beyond the live store. *history.Store satisfies it.
type Archive interface {
	Save(ctx context.Context, r *types.QualityReport) error
}

// Evaluator checks alert rules against a report. *alerts.Engine satisfies it.
type Evaluator interface {
	Evaluate(r *types.QualityReport)
}

// Receiver implements reportrpc.ReportServiceServer.
type Receiver struct {
	store   *store.Store
	archive Archive
	alerts  Evaluator
}

// New creates a Receiver that writes accepted reports to st. archive and
// alerts may be nil.
func New(st *store.Store, archive Archive, alerts Evaluator) *Receiver {
	return &Receiver{store: st, archive: archive, alerts: alerts}
}

// SendReport is the unary RPC handler called by spikeqc-agent instances.
// Authentication is enforced by the gRPC server interceptor before this runs.
func (r *Receiver) SendReport(ctx context.Context, rep *types.QualityReport) (*types.SendResponse, error) {
	if rep.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if rep.ReportID == "" {
		return nil, status.Error(codes.InvalidArgument, "report_id is required")
	}
	for i, u := range rep.Units {
		if u.UnitID == "" {
			return nil, status.Errorf(codes.InvalidArgument, "units[%d]: unit_id is required", i)
		}
	}

	if r.archive != nil {
		if err := r.archive.Save(ctx, rep); err != nil {
			slog.Error("receiver: archive report", "session_id", rep.SessionID, "report_id", rep.ReportID, "err", err)
			return nil, status.Error(codes.Unavailable, "archive unavailable")
		}
	}

	r.store.Put(rep)
	if r.alerts != nil {
		r.alerts.Evaluate(rep)
	}

	slog.Debug("receiver: report stored",
		"session_id", rep.SessionID,
		"report_id", rep.ReportID,
		"state", rep.State,
		"score", float64(rep.Score),
		"units", len(rep.Units),
	)

	return &types.SendResponse{OK: true}, nil
}
