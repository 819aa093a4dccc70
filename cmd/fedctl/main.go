// Command fedctl is the operator and participant CLI for a running
// fedledger server.
//
// # Commands
//
//	fedctl keygen
//	fedctl register --id=alice --private-key=<hex>
//	fedctl round open
//	fedctl round list
//	fedctl train --id=alice --private-key=<hex> --session-key=<hex> --round=3 --shard=0 --shards=4
//	fedctl aggregate 3
//	fedctl ledger --limit=20
//	fedctl checkpoints
//	fedctl model
//	fedctl status
//
// Registration, opening rounds and aggregation need --admin-token when the
// server is configured with one.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/flashbots/fedledger/client"
	"github.com/flashbots/fedledger/cmd/common"
	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/model"
	"github.com/flashbots/fedledger/protocol"
	"github.com/flashbots/fedledger/services"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fedctl",
		Short:        "fedctl - command-line tool for a fedledger aggregator",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Aggregator URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "admin-token", "t", os.Getenv("FEDLEDGER_ADMIN_TOKEN"), "Admin token (user:pass)")

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newRegisterCmd())
	rootCmd.AddCommand(newClientsCmd())
	rootCmd.AddCommand(newRoundCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newAggregateCmd())
	rootCmd.AddCommand(newLedgerCmd())
	rootCmd.AddCommand(newCheckpointsCmd())
	rootCmd.AddCommand(newModelCmd())
	rootCmd.AddCommand(newStatusCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func apiClient() *services.APIClient {
	return services.NewAPIClient(serverURL, adminToken)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseRound(arg string) (protocol.RoundID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid round id %q", arg)
	}
	return protocol.RoundID(id), nil
}

func newKeygenCmd() *cobra.Command {
	var session bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair, or a session key with --session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if session {
				key, err := crypto.GenerateSessionKey()
				if err != nil {
					return err
				}
				fmt.Println(key.String())
				return nil
			}
			pub, priv, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("private_key: %s\n", priv.String())
			fmt.Print(pub.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&session, "session", false, "Generate an AES-256 session key instead")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var clientID, privateKeyHex, publicKeyFile string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a client's verification key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pub crypto.PublicKey
			switch {
			case publicKeyFile != "":
				data, err := os.ReadFile(publicKeyFile)
				if err != nil {
					return err
				}
				if pub, err = crypto.NewPublicKeyFromString(string(data)); err != nil {
					return err
				}
			case privateKeyHex != "":
				priv, err := crypto.NewPrivateKeyFromString(privateKeyHex)
				if err != nil {
					return err
				}
				if pub, err = priv.PublicKey(); err != nil {
					return err
				}
			default:
				return errors.New("one of --private-key or --public-key-file is required")
			}
			if err := apiClient().RegisterClient(cmd.Context(), clientID, pub); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", clientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "id", "", "Client id")
	cmd.Flags().StringVar(&privateKeyHex, "private-key", "", "Hex PKCS#8 private key to derive the public key from")
	cmd.Flags().StringVar(&publicKeyFile, "public-key-file", "", "PEM public key file")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newClientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := apiClient().ListClients(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(clients)
		},
	}
}

func newRoundCmd() *cobra.Command {
	roundCmd := &cobra.Command{
		Use:   "round",
		Short: "Open and inspect rounds",
	}

	roundCmd.AddCommand(&cobra.Command{
		Use:   "open",
		Short: "Open a new round",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apiClient().OpenRound(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	})

	roundCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rounds, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rounds, err := apiClient().ListRounds(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(rounds)
		},
	})

	return roundCmd
}

func newTrainCmd() *cobra.Command {
	var (
		clientID      string
		privateKeyHex string
		sessionKeyHex string
		configPath    string
		round         int64
		shard         int
		shards        int
		samples       int
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train on a synthetic shard against the current model and submit the update",
		RunE: func(cmd *cobra.Command, args []string) error {
			if round <= 0 {
				return errors.New("--round is required")
			}
			if shard < 0 || shard >= shards {
				return fmt.Errorf("shard %d out of range [0, %d)", shard, shards)
			}

			cfg := common.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = common.LoadConfig(configPath); err != nil {
					return err
				}
			}

			priv, err := common.LoadOrGenerateSigningKey(privateKeyHex)
			if err != nil {
				return err
			}
			sessionKey, err := crypto.NewSessionKeyFromString(sessionKeyHex)
			if err != nil {
				return fmt.Errorf("session key: %w", err)
			}

			data := model.Partition(model.Synthetic(cfg.Model, samples, cfg.Model.Seed+2), shards)[shard]
			c, err := client.NewClient(&client.Config{
				ClientID:   clientID,
				PrivateKey: priv,
				SessionKey: sessionKey,
				Trainer:    model.NewLogisticRegression(cfg.Model),
				Dataset:    data,
			})
			if err != nil {
				return err
			}

			api := apiClient()
			global, err := api.Model(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch model: %w", err)
			}
			pkg, err := c.PrepareUpdate(cmd.Context(), global)
			if err != nil {
				return err
			}
			resp, err := api.SubmitUpdate(cmd.Context(), protocol.RoundID(round), pkg)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&clientID, "id", "", "Client id")
	cmd.Flags().StringVar(&privateKeyHex, "private-key", "", "Hex PKCS#8 signing key")
	cmd.Flags().StringVar(&sessionKeyHex, "session-key", "", "Hex AES-256 session key")
	cmd.Flags().StringVar(&configPath, "config", "", "Server config file for the model dimensions")
	cmd.Flags().Int64Var(&round, "round", 0, "Round to submit to")
	cmd.Flags().IntVar(&shard, "shard", 0, "Index of this client's data shard")
	cmd.Flags().IntVar(&shards, "shards", 1, "Total number of shards")
	cmd.Flags().IntVar(&samples, "samples", 1000, "Size of the synthetic dataset before sharding")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("private-key")
	cmd.MarkFlagRequired("session-key")
	return cmd
}

func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate [round]",
		Short: "Aggregate and close a round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			round, err := parseRound(args[0])
			if err != nil {
				return err
			}
			// A rejected run comes back as an APIError whose body carries
			// the per-record rejections.
			resp, err := apiClient().Aggregate(cmd.Context(), round)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newLedgerCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := apiClient().Ledger(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", services.DefaultLedgerLimit, "Maximum number of entries")
	return cmd
}

func newCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpoints, err := apiClient().Checkpoints(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(checkpoints)
		},
	}
}

func newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Print the current global parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := apiClient().Model(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(params)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show aggregator counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := apiClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}
