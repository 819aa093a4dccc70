// Command simulate runs a complete federated training session in-process.
//
// It creates a ledger, an aggregator and N clients, each holding one shard of
// a synthetic classification dataset, and drives R rounds. Optionally it
// injects a tampered package and an update from an unregistered client into
// every round to exercise the discard paths.
//
// # Usage
//
//	go run ./cmd/simulate --clients=5 --rounds=10
//	go run ./cmd/simulate --ledger=sqlite --sqlite-path=sim.db --adversarial
//	go run ./cmd/simulate --config=server.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flashbots/fedledger/aggregator"
	"github.com/flashbots/fedledger/client"
	"github.com/flashbots/fedledger/cmd/common"
	"github.com/flashbots/fedledger/ledger"
	"github.com/flashbots/fedledger/model"
	"github.com/flashbots/fedledger/protocol"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file (model, ledger, log)")
		numClients   = flag.Int("clients", 5, "Number of clients")
		numRounds    = flag.Int("rounds", 5, "Number of rounds")
		samples      = flag.Int("samples", 1000, "Training samples before sharding")
		adversarial  = flag.Bool("adversarial", false, "Inject a tampered and an unregistered update every round")
		ledgerDriver = flag.String("ledger", "", "Ledger driver: memory, sqlite or postgres")
		sqlitePath   = flag.String("sqlite-path", "", "SQLite database path")
		logLevel     = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := common.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = common.LoadConfig(*configPath); err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *ledgerDriver != "" {
		cfg.Ledger.Driver = ledger.Driver(*ledgerDriver)
	}
	if *sqlitePath != "" {
		cfg.Ledger.SQLite.Path = *sqlitePath
	}
	cfg.Log.Level = *logLevel

	if *numClients <= 0 || *numRounds <= 0 {
		fmt.Println("Configuration error: --clients and --rounds must be positive")
		os.Exit(1)
	}

	if err := run(ctx, cfg, *numClients, *numRounds, *samples, *adversarial); err != nil {
		if ctx.Err() != nil {
			return
		}
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, numClients, numRounds, samples int, adversarial bool) error {
	log, err := common.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	sessionKey, err := common.LoadOrGenerateSessionKey(cfg.SessionKey)
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}

	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	initial, err := model.InitParameters(cfg.Model)
	if err != nil {
		return err
	}
	lr := model.NewLogisticRegression(cfg.Model)

	agg, err := aggregator.NewAggregator(&aggregator.Config{
		Ledger:     l,
		SessionKey: sessionKey,
		Evaluator:  lr,
		HeldOut:    model.Synthetic(cfg.Model, cfg.HeldOutSamples, cfg.Model.Seed+1),
		Initial:    initial,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	if _, err := agg.Restore(ctx); err != nil {
		return err
	}

	shards := model.Partition(model.Synthetic(cfg.Model, samples, cfg.Model.Seed+2), numClients)
	clients := make([]*client.ClientImpl, numClients)
	for i := range clients {
		c, err := client.NewClientWithGeneratedKey(fmt.Sprintf("client_%d", i+1), sessionKey, lr, shards[i])
		if err != nil {
			return err
		}
		reg := c.Registration()
		if err := l.RegisterClient(ctx, reg.ClientID, reg.PublicKey); err != nil {
			return err
		}
		clients[i] = c
	}

	var outsider *client.ClientImpl
	if adversarial {
		outsider, err = client.NewClientWithGeneratedKey("outsider", sessionKey, lr, shards[0])
		if err != nil {
			return err
		}
	}

	fmt.Printf("%-6s %-9s %-9s %-10s %s\n", "round", "accepted", "rejected", "duplicates", "loss")
	for r := 0; r < numRounds; r++ {
		round, err := agg.OpenRound(ctx)
		if err != nil {
			return err
		}

		global := agg.GlobalParameters()
		for _, c := range clients {
			pkg, err := c.PrepareUpdate(ctx, global)
			if err != nil {
				return fmt.Errorf("client %s: %w", c.ID(), err)
			}
			if _, err := agg.SubmitPackage(ctx, round, pkg); err != nil {
				return err
			}
		}

		if adversarial {
			if err := inject(ctx, agg, round, clients[0], outsider, global); err != nil {
				return err
			}
		}

		result, err := agg.RunAggregation(ctx, round)
		if err != nil && !errors.Is(err, protocol.ErrNoValidUpdates) {
			return fmt.Errorf("round %d: %w", round, err)
		}
		fmt.Printf("%-6d %-9d %-9d %-10d %.4f\n", round, result.Accepted, result.Rejected, result.Duplicates, result.Metric)
		for _, rej := range result.Rejections {
			fmt.Printf("       discarded record %d from %s: %s\n", rej.RecordID, rej.ClientID, rej.Reason)
		}
	}

	stats := agg.Stats()
	fmt.Printf("\nrounds completed: %d, records accepted: %d, records discarded: %d\n",
		stats.RoundsCompleted, stats.RecordsAccepted, stats.RecordsDiscarded)
	return nil
}

// inject submits one package with a corrupted ciphertext and one from a
// client that never registered.
func inject(ctx context.Context, agg *aggregator.AggregatorImpl, round protocol.RoundID, victim, outsider *client.ClientImpl, global *protocol.Parameters) error {
	pkg, err := victim.Package(global)
	if err != nil {
		return err
	}
	pkg.Ciphertext = append([]byte(nil), pkg.Ciphertext...)
	pkg.Ciphertext[0] ^= 0x01
	if _, err := agg.SubmitPackage(ctx, round, pkg); err != nil {
		return err
	}

	pkg, err = outsider.Package(global)
	if err != nil {
		return err
	}
	_, err = agg.SubmitPackage(ctx, round, pkg)
	return err
}
