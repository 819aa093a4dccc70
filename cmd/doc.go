// Package cmd provides the fedledger binaries.
//
// # Commands
//
// server: Runs the aggregator and its HTTP API over a memory, SQLite or
// PostgreSQL ledger. Rounds are closed through the API or on a cron schedule.
//
//	go run ./cmd/server --config=server.yaml
//	go run ./cmd/server --ledger=sqlite --sqlite-path=fed.db --admin-token=admin:secret --schedule="@every 1m"
//	go run ./cmd/server --metrics-addr=:9090
//
// simulate: Runs clients and the aggregator in one process for a fixed
// number of rounds and prints per-round results.
//
//	go run ./cmd/simulate --clients=5 --rounds=10 --adversarial
//
// fedctl: CLI for a running server. Registers clients, opens and
// aggregates rounds, trains and submits updates, and inspects the ledger.
//
//	go run ./cmd/fedctl keygen
//	go run ./cmd/fedctl -t admin:secret register --id=alice --private-key=<hex>
//	go run ./cmd/fedctl -t admin:secret round open
//	go run ./cmd/fedctl train --id=alice --private-key=<hex> --session-key=<hex> --round=1
//	go run ./cmd/fedctl -t admin:secret aggregate 1
//
// # HTTP Configuration Mode
//
// The server command can wait for its configuration via HTTP POST, which is
// useful when the config is provisioned after the process starts:
//
//	go run ./cmd/server --wait-config --addr=:8080
//	curl -X POST http://localhost:8080/config --data-binary @server.yaml
package cmd
