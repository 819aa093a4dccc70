/*
# fedledger Services Package

The services package exposes the aggregator and its ledger over HTTP, and
provides a typed Go client for the same API.

## Components

1. **API** (`api.go`)
  - Wraps an `aggregator.AggregatorImpl` and the `protocol.Ledger` it writes to
  - Implements `httpserver.RouteRegistrar`
  - Public endpoints:
  - `GET /clients` - Registered clients and their PEM keys
  - `GET /rounds`, `GET /rounds/{round}` - Round status, phase and record count
  - `POST /rounds/{round}/updates` - Append an update package
  - `GET /ledger?limit=N` - Recent records with digests, newest first
  - `GET /checkpoints` - Checkpoints, newest round first
  - `GET /model` - Current global parameters
  - `GET /status` - Aggregator counters
  - Admin endpoints (basic auth when an admin token is configured):
  - `POST /clients` - Register a client key
  - `POST /rounds` - Open a round
  - `POST /rounds/{round}/aggregate` - Verify, average and close a round

2. **APIClient** (`client.go`)
  - One method per endpoint, returning the decoded response types
  - Non-2xx responses are returned as `*APIError`

## Error Mapping

	protocol.ErrRoundNotFound          404
	protocol.ErrRoundClosed            409
	protocol.ErrAggregationInProgress  409
	protocol.ErrNoValidUpdates         422 (body still carries the rejections)
	protocol.ErrRegistration           400
	protocol.ErrPersistence            503

The API is an orchestration surface over the ledger. Clients that share the
ledger directly can skip it entirely.
*/
package services
