package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/obsidianstack/spikeqc/pkg/reportrpc"
	"github.com/obsidianstack/spikeqc/server/internal/alerts"
	"github.com/obsidianstack/spikeqc/server/internal/api"
	"github.com/obsidianstack/spikeqc/server/internal/auth"
	"github.com/obsidianstack/spikeqc/server/internal/config"
	"github.com/obsidianstack/spikeqc/server/internal/history"
	"github.com/obsidianstack/spikeqc/server/internal/receiver"
	"github.com/obsidianstack/spikeqc/server/internal/store"
	"github.com/obsidianstack/spikeqc/server/internal/ws"
)

const pruneInterval = time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve static UI files from this directory; empty disables")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("spikeqc-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"report_ttl", sc.Report.TTL,
		"storage", sc.Storage.Backend,
		"alert_rules", len(sc.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(sc.Report.TTL)
	go st.Run(ctx)

	// Interfaces stay nil when history is off so handlers can tell.
	var (
		archive receiver.Archive
		reader  api.History
	)
	if sc.Storage.Enabled() {
		hist, err := history.Open(sc.Storage.Path)
		if err != nil {
			slog.Error("failed to open history store", "path", sc.Storage.Path, "err", err)
			os.Exit(1)
		}
		defer hist.Close()
		go hist.Run(ctx, sc.Storage.Retention, pruneInterval)
		archive, reader = hist, hist
		slog.Info("history enabled", "path", sc.Storage.Path, "retention", sc.Storage.Retention)
	}

	alertEngine := alerts.New(sc.Alerts)

	header, key := sc.Auth.EffectiveHeader(), sc.Auth.Key()
	if sc.Auth.Mode == "apikey" && key == "" {
		slog.Warn("auth mode is apikey but the key is empty; requests are not authenticated",
			"key_env", sc.Auth.KeyEnv)
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(auth.APIKeyInterceptor(sc.Auth.Mode, header, key)))
	reportrpc.RegisterReportServiceServer(grpcSrv, receiver.New(st, archive, alertEngine))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(st, alertEngine, sc.StreamInterval)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", auth.APIKeyMiddleware(sc.Auth.Mode, header, key, api.New(st, reader, alertEngine)))
	httpMux.Handle("/ws/stream", auth.APIKeyMiddleware(sc.Auth.Mode, header, key, hub))
	if *uiDir != "" {
		httpMux.Handle("/", spaHandler(*uiDir))
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("spikeqc-server shutting down")
	grpcSrv.GracefulStop()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// spaHandler serves files from dir and falls back to index.html for unknown
// paths so client-side routes resolve.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}
