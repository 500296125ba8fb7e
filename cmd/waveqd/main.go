// waveqd is the audio edit engine daemon: it accepts edit requests over
// HTTP, schedules them by priority, and runs the operation pipelines.
package main

import (
	cryptotls "crypto/tls"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/waveq/waveq-engine/pkg/api"
	"github.com/waveq/waveq-engine/pkg/blob"
	"github.com/waveq/waveq-engine/pkg/catalog"
	"github.com/waveq/waveq-engine/pkg/config"
	"github.com/waveq/waveq-engine/pkg/engine"
	"github.com/waveq/waveq-engine/pkg/logger"
	"github.com/waveq/waveq-engine/pkg/metrics"
	"github.com/waveq/waveq-engine/pkg/pipeline"
	"github.com/waveq/waveq-engine/pkg/retry"
	"github.com/waveq/waveq-engine/pkg/scheduler"
	"github.com/waveq/waveq-engine/pkg/shutdown"
	"github.com/waveq/waveq-engine/pkg/status"
	"github.com/waveq/waveq-engine/pkg/store"
	waveqtls "github.com/waveq/waveq-engine/pkg/tls"
	"github.com/waveq/waveq-engine/pkg/tracing"
)

const version = "0.3.0"

func main() {
	cfgPath := flag.String("config", "", "path to waveqd config file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("waveqd", version)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("daemon failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting waveqd",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("store", cfg.Store.Type),
		zap.Int("workers", cfg.Workers))

	st, err := store.NewStore(store.Config{Type: cfg.Store.Type, Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	blobs, err := blob.NewLocal(cfg.Blob.Root, log)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	cat := catalog.New()
	if err := catalog.BindDefaults(cat, blobs); err != nil {
		return fmt.Errorf("bind executors: %w", err)
	}

	tracer, err := tracing.Init(tracing.Config{
		ServiceName:    "waveqd",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	broker := status.NewBroker(log)
	pub := status.NewPublisher(broker)
	sched := scheduler.New(st, log, cfg.ClientLimit)
	met := metrics.New()

	pipe := pipeline.New(cat, blobs, st, pub, log, pipeline.Config{
		OpTimeout: cfg.OpTimeout,
		Retry: retry.Config{
			MaxRetries:     cfg.RetryMax,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
			Multiplier:     2.0,
		},
	})

	eng := engine.New(cat, st, sched, pipe, blobs, pub, met, log, engine.Config{Workers: cfg.Workers})
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var tlsConf *cryptotls.Config
	if cfg.TLS.Enabled {
		if cfg.TLS.Auto {
			if err := waveqtls.EnsureCert(cfg.TLS.Cert, cfg.TLS.Key, "waveqd"); err != nil {
				return fmt.Errorf("prepare tls certificate: %w", err)
			}
		}
		tlsConf, err = waveqtls.ServerConfig(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("load tls certificate: %w", err)
		}
	}

	server, err := api.NewServer(eng, broker, met, tracer, log, api.Config{
		ListenAddr: cfg.Listen,
		RateRPS:    cfg.Rate.RPS,
		RateBurst:  cfg.Rate.Burst,
		APIKeys:    cfg.Auth.Keys,
		TLS:        tlsConf,
	})
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	mgr := shutdown.New(30*time.Second, log)
	mgr.Register("store", shutdown.Closer(st))
	mgr.Register("status broker", shutdown.Closer(broker))
	mgr.Register("tracing", tracer.Shutdown)
	mgr.Register("engine", eng.Stop)
	mgr.Register("http server", server.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case err := <-errCh:
		// Listen failure before any signal arrived.
		mgr.Run()
		return err
	case <-done:
	}
	return nil
}
