// Command server runs the federated learning aggregator behind an HTTP API.
//
// The aggregator keeps the global model in memory and persists every
// submitted update package and every checkpoint to the configured ledger.
// Clients register their public keys, submit encrypted and signed updates to
// the current round, and an operator (or the built-in cron schedule) closes
// rounds by triggering aggregation.
//
// # Configuration File
//
//	http_addr: ":8080"
//	metrics_addr: ":9090"         # prometheus /metrics, empty to disable
//	admin_token: "admin:secret"   # protects registration and round control
//	session_key: ""               # hex AES-256 key, generated if empty
//	schedule: "@every 1m"         # cron spec, empty for manual rounds
//	held_out_samples: 200
//	log:
//	  level: info
//	  json: false
//	ledger:
//	  driver: sqlite              # memory, sqlite or postgres
//	  sqlite:
//	    path: fedledger.db
//	model:
//	  input_dim: 16
//	  output_dim: 4
//	  learning_rate: 0.5
//	  local_epochs: 1
//	  seed: 1
//
// # HTTP Configuration Mode
//
// Use --wait-config to start an HTTP server that waits for configuration:
//
//	go run ./cmd/server --wait-config --addr=:8080
//	curl -X POST http://localhost:8080/config --data-binary @server.yaml
//
// # Usage
//
//	go run ./cmd/server --config=server.yaml
//	go run ./cmd/server --ledger=sqlite --sqlite-path=/var/lib/fed.db --schedule="@every 30s"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flashbots/fedledger/aggregator"
	"github.com/flashbots/fedledger/api/httpserver"
	"github.com/flashbots/fedledger/cmd/common"
	"github.com/flashbots/fedledger/ledger"
	"github.com/flashbots/fedledger/metrics"
	"github.com/flashbots/fedledger/model"
	"github.com/flashbots/fedledger/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		waitConfig    = flag.Bool("wait-config", false, "Wait for config via HTTP POST to /config")
		addr          = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr   = flag.String("metrics-addr", "", "Prometheus metrics listen address (disabled if empty)")
		adminToken    = flag.String("admin-token", "", "Admin token for round control (user:pass)")
		sessionKeyHex = flag.String("session-key", "", "AES-256 session key (hex, generates if empty)")
		schedule      = flag.String("schedule", "", "Cron spec for closing rounds, e.g. \"@every 1m\"")
		ledgerDriver  = flag.String("ledger", "", "Ledger driver: memory, sqlite or postgres")
		sqlitePath    = flag.String("sqlite-path", "", "SQLite database path")
		logLevel      = flag.String("log-level", "", "Log level: debug, info, warn, error")
		logJSON       = flag.Bool("log-json", false, "Log in JSON format")
		pprof         = flag.Bool("pprof", false, "Enable pprof debug endpoints")
	)
	flag.Parse()

	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	var cfg *common.Config
	var err error

	if *waitConfig {
		cfg, err = waitForConfig(ctx, *addr)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("Shutdown during config wait")
				return
			}
			fmt.Printf("Error waiting for config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, err = loadConfiguration(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	if isFlagSet("addr") {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *adminToken != "" {
		cfg.AdminToken = *adminToken
	}
	if *sessionKeyHex != "" {
		cfg.SessionKey = *sessionKeyHex
	}
	if *schedule != "" {
		cfg.Schedule = *schedule
	}
	if *ledgerDriver != "" {
		cfg.Ledger.Driver = ledger.Driver(*ledgerDriver)
	}
	if *sqlitePath != "" {
		cfg.Ledger.SQLite.Path = *sqlitePath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, *pprof); err != nil {
		if ctx.Err() != nil {
			return
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func waitForConfig(ctx context.Context, addr string) (*common.Config, error) {
	configCh := make(chan *common.Config, 1)
	errCh := make(chan error, 1)

	var configOnce sync.Once

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("waiting"))
	})

	r.Post("/config", func(w http.ResponseWriter, r *http.Request) {
		configOnce.Do(func() {
			body, err := io.ReadAll(r.Body)
			if err == nil {
				var cfg *common.Config
				cfg, err = common.ParseConfig(body)
				if err == nil {
					configCh <- cfg
					w.WriteHeader(http.StatusOK)
					w.Write([]byte("configuration accepted"))
					return
				}
			}
			errCh <- err
			http.Error(w, err.Error(), http.StatusBadRequest)
		})
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		fmt.Printf("Waiting for configuration on %s (POST /config)\n", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- fmt.Errorf("config server: %w", err)
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case cfg := <-configCh:
		fmt.Println("Configuration received, starting server...")
		return cfg, nil
	}
}

func loadConfiguration(configPath string) (*common.Config, error) {
	if configPath != "" {
		return common.LoadConfig(configPath)
	}
	return common.DefaultConfig(), nil
}

func run(ctx context.Context, cfg *common.Config, enablePprof bool) error {
	log, err := common.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	sessionKey, err := common.LoadOrGenerateSessionKey(cfg.SessionKey)
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}
	if cfg.SessionKey == "" {
		// Clients need the key to encrypt; print it once so it can be shared.
		fmt.Printf("Generated session key: %s\n", sessionKey.String())
	}

	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	initial, err := model.InitParameters(cfg.Model)
	if err != nil {
		return fmt.Errorf("init parameters: %w", err)
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	agg, err := aggregator.NewAggregator(&aggregator.Config{
		Ledger:     l,
		SessionKey: sessionKey,
		Evaluator:  model.NewLogisticRegression(cfg.Model),
		HeldOut:    model.Synthetic(cfg.Model, cfg.HeldOutSamples, cfg.Model.Seed+1),
		Initial:    initial,
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("create aggregator: %w", err)
	}

	if restored, err := agg.Restore(ctx); err != nil {
		return fmt.Errorf("restore: %w", err)
	} else if restored != 0 {
		log.Info("Restored global model from checkpoint", "round", restored)
	}

	api, err := services.NewAPI(&services.APIConfig{
		Aggregator: agg,
		Ledger:     l,
		Log:        log,
		AdminToken: cfg.AdminToken,
	})
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Metrics:                  m,
		EnablePprof:              enablePprof,
		AllowedOrigins:           cfg.AllowedOrigins,
		Log:                      log,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, api)
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	var scheduler *aggregator.Scheduler
	if cfg.Schedule != "" {
		scheduler, err = aggregator.NewScheduler(agg, cfg.Schedule, log)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
		}
		scheduler.OnResult = func(result *aggregator.Result, err error) {
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn("Scheduled aggregation did not close the round", "err", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	srv.RunInBackground()
	log.Info("Aggregator listening", "addr", cfg.HTTPAddr, "ledger", cfg.Ledger.Driver, "schedule", cfg.Schedule)

	<-ctx.Done()

	log.Info("Shutting down aggregator")
	srv.Shutdown()
	return nil
}
