package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grandcat/zeroconf"

	"tomgalvin.uk/luckprint/internal/bitmap"
	"tomgalvin.uk/luckprint/internal/config"
	"tomgalvin.uk/luckprint/internal/history"
	"tomgalvin.uk/luckprint/internal/printer"
	"tomgalvin.uk/luckprint/internal/render"
	"tomgalvin.uk/luckprint/internal/server"
)

func main() {
	configPath := flag.String("config", "luckprint.yaml", "path to the config file")
	text := flag.String("text", "", "print this text and exit")
	imagePath := flag.String("image", "", "print this image file and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *text != "" || *imagePath != "" {
		err = printOnce(ctx, cfg, logger, *text, *imagePath)
	} else {
		err = serve(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("Exiting", "err", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(c config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.Level)}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Everything between a job and the printer
func newQueue(cfg *config.Config, logger *slog.Logger, recorder printer.Recorder) (*printer.Queue, error) {
	format, err := bitmap.ParseWireFormat(cfg.Printer.WireFormat)
	if err != nil {
		return nil, err
	}
	encoder, err := cfg.EncoderOptions()
	if err != nil {
		return nil, err
	}

	renderer, err := render.New(printer.PrintWidth, render.FontConfig{
		Builtin: cfg.Font.Builtin,
		Path:    cfg.Font.Path,
		Size:    cfg.Font.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("Couldn't set up renderer:\n%w", err)
	}

	transport, err := printer.NewBluetoothTransport(logger)
	if err != nil {
		return nil, err
	}
	sessions := printer.NewSessionManager(transport, printer.SessionConfig{
		NamePrefix:     cfg.Printer.NamePrefix,
		ScanTimeout:    cfg.Printer.ScanTimeout,
		ConnectTimeout: cfg.Printer.ConnectTimeout,
		ProbeTimeout:   cfg.Printer.ProbeTimeout,
		WriteTimeout:   cfg.Printer.WriteTimeout,
	}, logger)

	pipeline := &printer.Pipeline{
		Renderer: renderer,
		Encoder:  encoder,
		Format:   format,
		Width:    printer.PrintWidth,
	}

	logger.Info("Printer pipeline ready",
		"format", format.String(),
		"strategy", encoder.Strategy.String(),
		"prefix", cfg.Printer.NamePrefix,
	)
	return printer.NewQueue(sessions, pipeline, printer.QueueConfig{
		Capacity:       cfg.Queue.Capacity,
		JobTimeout:     cfg.Queue.JobTimeout,
		HealthInterval: cfg.Queue.HealthInterval,
		Recorder:       recorder,
	}, logger), nil
}

func printOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, text, imagePath string) error {
	q, err := newQueue(cfg, logger, nil)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx)
	}()
	defer func() {
		q.Close()
		<-done
	}()

	job := printer.NewTextJob(text)
	if imagePath != "" {
		job = printer.NewImageJob(imagePath)
	}

	r, err := q.SubmitAndWait(ctx, job)
	if err != nil {
		return err
	}
	if !r.Accepted() {
		return fmt.Errorf("Job %s wasn't printed:\n%w", r.JobID, r.Err)
	}
	logger.Info("Printed", "job", r.JobID)
	return nil
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (*history.Repository, error) {
	if cfg.Path == "" {
		logger.Info("Job history disabled")
		return nil, nil
	}

	r, err := history.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Retention > 0 {
		n, err := r.Prune(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			logger.Warn("Couldn't prune job history", "err", err)
		} else if n > 0 {
			logger.Info("Pruned job history", "deleted", n)
		}
	}
	return r, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		return err
	}

	// a nil *history.Repository must not end up inside a non-nil interface
	var recorder printer.Recorder
	var jobHistory server.JobHistory
	if repo != nil {
		defer repo.Close()
		recorder, jobHistory = repo, repo
	}

	q, err := newQueue(cfg, logger, recorder)
	if err != nil {
		return err
	}
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		if err := q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Print queue stopped", "err", err)
		}
	}()
	defer func() {
		q.Close()
		<-queueDone
	}()

	if parseLogLevel(cfg.Logging.Level) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	format, _ := bitmap.ParseWireFormat(cfg.Printer.WireFormat)
	s := server.NewServer(logger.With("src", "server"), q, jobHistory, format, cfg.Webhook.Secret, cfg.Server.ImageDir)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Server.MDNSName != "" {
		mdnsServer, err := zeroconf.Register(
			cfg.Server.MDNSName,
			"_http._tcp",
			"local.",
			cfg.Server.Port,
			[]string{"txtvers=1", "path=/api", "printer=" + cfg.Printer.NamePrefix},
			nil,
		)
		if err != nil {
			return fmt.Errorf("mDNS registration failed:\n%w", err)
		}
		defer mdnsServer.Shutdown()
		logger.Info("mDNS registered", "name", cfg.Server.MDNSName, "service", "_http._tcp")
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("Error starting server:\n%w", err)
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "err", err)
	}
	return nil
}
