package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/formrelay/upload-relay/config"
	"github.com/formrelay/upload-relay/internal/bootstrap"
	relayhttp "github.com/formrelay/upload-relay/internal/relay/http"
	"github.com/formrelay/upload-relay/internal/relay/metrics"
	"github.com/formrelay/upload-relay/internal/relay/service"
	"github.com/formrelay/upload-relay/internal/relay/staging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	bootstrap.SetGinMode(cfg.App.Environment)

	if cfg.Upload.MaxBytes == 0 {
		log.Println("Warning: MAX_UPLOAD_BYTES is not set, uploads are unbounded")
	}
	if cfg.Forward.Timeout == 0 {
		log.Println("Warning: FORWARD_TIMEOUT is not set, outbound calls end only with the client request")
	}
	if cfg.Server.ReadTimeout == 0 {
		log.Println("Warning: READ_TIMEOUT is not set, a slow client can hold a staging slot indefinitely")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := staging.NewStore(cfg.Upload.TempDir, cfg.Upload.MaxStagedFiles, m)
	if err != nil {
		log.Fatalf("staging: %v", err)
	}

	rdb, err := bootstrap.OpenRedis(ctx, bootstrap.RedisOptions{URL: cfg.Redis.URL})
	if err != nil {
		log.Printf("Warning: redis unavailable, rate limits stay per process: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var sweeper *staging.Sweeper
	if cfg.Upload.SweepSchedule != "" {
		sweeper = staging.NewSweeper(store, cfg.Upload.SweepSchedule, cfg.Upload.TempMaxAge)
		if err := sweeper.Start(); err != nil {
			log.Fatalf("sweeper: %v", err)
		}
	}

	fwd := service.NewHTTPForwarder(service.ForwarderOptions{
		URL:           cfg.Forward.URL,
		Timeout:       cfg.Forward.Timeout,
		MaxConcurrent: cfg.Forward.MaxConcurrent,
		Metrics:       m,
	})
	handler := relayhttp.New(
		relayhttp.NewAcceptor(store, cfg.Upload.MaxBytes),
		service.NewMemoryPath(fwd),
		service.NewDiskPath(fwd),
		m,
	)

	r := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:  cfg.App.ServiceName,
		Version:      cfg.App.Version,
		Handler:      handler,
		Metrics:      m,
		Gatherer:     reg,
		Redis:        rdb,
		Staging:      store,
		RateLimit:    cfg.Server.RateLimitPerMin,
		AllowOrigins: cfg.Server.CORSAllowOrigins,
		StaticDir:    cfg.Static.Dir,
		IndexFile:    cfg.Static.IndexFile,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	go func() {
		log.Printf("Server is running on port %s (forwarding to %s)", cfg.Server.Port, cfg.Forward.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	stop()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}
	log.Println("Server stopped")
}
