package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/pkg/reportrpc"
	"github.com/obsidianstack/spikeqc/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers compute.Results and ships them to spikeqc-server.
// Ship() is non-blocking; when the buffer is full the oldest report is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg     config.AgentConfig
	buf     chan *types.QualityReport
	pending atomic.Int64 // buffered or in flight
	dialFn  dialFunc
}

// dialFunc opens a gRPC connection; tests replace it with a local listener.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan *types.QualityReport, size),
		dialFn: defaultDial,
	}
}

// Ship converts res to a report and enqueues it.
func (s *Shipper) Ship(res *compute.Result) {
	s.enqueue(toReport(res))
}

func (s *Shipper) enqueue(rep *types.QualityReport) {
	for {
		select {
		case s.buf <- rep:
			s.pending.Add(1)
			return
		default:
		}
		select {
		case old := <-s.buf:
			s.pending.Add(-1)
			slog.Warn("shipper: buffer full, evicted oldest report",
				"session", old.SessionID, "report", old.ReportID, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of reports not yet acknowledged by the server.
func (s *Shipper) Pending() int {
	return int(s.pending.Load())
}

// Run drains the buffer, sending reports to the server. It reconnects with
// exponential backoff when the connection is lost and blocks until ctx is
// cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)

		err = s.drain(ctx, conn, bo)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain sends buffered reports until a transient send error or ctx is done.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn, bo *backoff) error {
	client := reportrpc.NewReportServiceClient(conn)

	for {
		select {
		case <-ctx.Done():
			return nil

		case rep := <-s.buf:
			err := s.send(ctx, client, rep)
			if err == nil {
				s.pending.Add(-1)
				bo.reset()
				continue
			}
			if isPermanentError(err) {
				s.pending.Add(-1)
				slog.Error("shipper: permanent send error, discarding report",
					"session", rep.SessionID, "report", rep.ReportID, "err", err)
				continue
			}
			// Requeue unless newer reports filled the buffer meanwhile.
			select {
			case s.buf <- rep:
			default:
				s.pending.Add(-1)
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}

func (s *Shipper) send(ctx context.Context, client reportrpc.ReportServiceClient, rep *types.QualityReport) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" {
		sendCtx = metadata.AppendToOutgoingContext(sendCtx,
			s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	resp, err := client.SendReport(sendCtx, rep)
	if err != nil {
		return err
	}
	if !resp.OK {
		slog.Warn("shipper: server rejected report",
			"session", rep.SessionID, "report", rep.ReportID, "message", resp.Message)
		return nil
	}
	slog.Debug("shipper: report delivered", "session", rep.SessionID, "report", rep.ReportID)
	return nil
}

// isPermanentError reports whether err means the report itself (or our
// credentials) is invalid and retrying cannot help.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc 1.62
}

// dialOptions builds the transport credentials for the server auth mode.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey and none: the key travels in per-call metadata.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with ±25% jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d := b.current + jitter
	if d < 0 {
		d = 0
	}
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
