package receiver_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/spikeqc/pkg/reportrpc"
	"github.com/obsidianstack/spikeqc/pkg/types"
	"github.com/obsidianstack/spikeqc/server/internal/alerts"
	"github.com/obsidianstack/spikeqc/server/internal/auth"
	"github.com/obsidianstack/spikeqc/server/internal/config"
	"github.com/obsidianstack/spikeqc/server/internal/history"
	"github.com/obsidianstack/spikeqc/server/internal/receiver"
	"github.com/obsidianstack/spikeqc/server/internal/store"
)

// startServer runs rec behind interceptor on a random local port and returns
// a connected client.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor, rec *receiver.Receiver) reportrpc.ReportServiceClient {
	t.Helper()

	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	reportrpc.RegisterReportServiceServer(srv, rec)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return reportrpc.NewReportServiceClient(conn)
}

func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func report(session, id, state string) *types.QualityReport {
	return &types.QualityReport{
		ReportID:  id,
		SessionID: session,
		State:     state,
		Score:     75,
		Units: []types.UnitQuality{
			{UnitID: "2", Label: types.LabelGood, Score: 90, Metrics: map[string]types.Value{"snr": 8.5}},
		},
		Summary: types.ReportSummary{NumUnits: 1, GoodUnits: 1, GoodFraction: 1, MedianSNR: 8.5},
	}
}

func TestSendReport_StoresArchivesAndAlerts(t *testing.T) {
	st := store.New(time.Hour)
	hist, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Close()
	eng := alerts.New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "failed", Condition: "state == fail"},
	}})

	client := startServer(t, allowAll, receiver.New(st, hist, eng))
	ctx := context.Background()

	resp, err := client.SendReport(ctx, report("mouse1", "r1", types.StateFail))
	if err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	if !resp.OK {
		t.Error("OK: got false, want true")
	}

	e, ok := st.Get("mouse1")
	if !ok {
		t.Fatal("store.Get: expected entry")
	}
	if e.Report.Units[0].Metric("snr") != 8.5 {
		t.Errorf("snr: got %v", e.Report.Units[0].Metric("snr"))
	}

	rows, err := hist.ListReports(ctx, "mouse1", 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("history rows: %v, %v", rows, err)
	}
	if eng.Firing() != 1 {
		t.Errorf("alerts firing: got %d, want 1", eng.Firing())
	}
}

func TestSendReport_ReplacesLatest(t *testing.T) {
	st := store.New(time.Hour)
	client := startServer(t, allowAll, receiver.New(st, nil, nil))
	ctx := context.Background()

	if _, err := client.SendReport(ctx, report("s", "r1", types.StatePass)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.SendReport(ctx, report("s", "r2", types.StateWarn)); err != nil {
		t.Fatal(err)
	}

	if st.Count() != 1 {
		t.Errorf("store.Count: got %d, want 1", st.Count())
	}
	e, _ := st.Get("s")
	if e.Report.ReportID != "r2" {
		t.Errorf("latest report: got %q, want r2", e.Report.ReportID)
	}
}

func TestSendReport_InvalidArgument(t *testing.T) {
	client := startServer(t, allowAll, receiver.New(store.New(time.Hour), nil, nil))

	noUnitID := report("s", "r1", types.StatePass)
	noUnitID.Units[0].UnitID = ""

	tests := []struct {
		name string
		rep  *types.QualityReport
	}{
		{"missing session", &types.QualityReport{ReportID: "r"}},
		{"missing report id", &types.QualityReport{SessionID: "s"}},
		{"missing unit id", noUnitID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.SendReport(context.Background(), tt.rep)
			if code := status.Code(err); code != codes.InvalidArgument {
				t.Errorf("code: got %v, want InvalidArgument", code)
			}
		})
	}
}

type brokenArchive struct{}

func (brokenArchive) Save(context.Context, *types.QualityReport) error {
	return errors.New("disk full")
}

func TestSendReport_ArchiveFailureIsRetryable(t *testing.T) {
	st := store.New(time.Hour)
	client := startServer(t, allowAll, receiver.New(st, brokenArchive{}, nil))

	_, err := client.SendReport(context.Background(), report("s", "r1", types.StatePass))
	if code := status.Code(err); code != codes.Unavailable {
		t.Errorf("code: got %v, want Unavailable", code)
	}
	if st.Count() != 0 {
		t.Error("report stored despite archive failure")
	}
}

func TestSendReport_APIKey(t *testing.T) {
	i := auth.APIKeyInterceptor("apikey", "x-api-key", "testkey")

	tests := []struct {
		name string
		key  string
		want codes.Code
	}{
		{"correct key", "testkey", codes.OK},
		{"wrong key", "wrongkey", codes.Unauthenticated},
		{"missing key", "", codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startServer(t, i, receiver.New(store.New(time.Hour), nil, nil))
			ctx := context.Background()
			if tt.key != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", tt.key)
			}
			_, err := client.SendReport(ctx, report("s", "r1", types.StatePass))
			if code := status.Code(err); code != tt.want {
				t.Errorf("code: got %v, want %v", code, tt.want)
			}
		})
	}
}
