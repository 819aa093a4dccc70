package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flashbots/fedledger/aggregator"
	"github.com/flashbots/fedledger/api/httpserver"
	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/ledger"
	"github.com/flashbots/fedledger/metrics"
	"github.com/flashbots/fedledger/protocol"
	"github.com/flashbots/fedledger/testutil"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "admin:secret"

type testEnv struct {
	server     *httptest.Server
	client     *APIClient
	sessionKey crypto.SessionKey
	ledger     protocol.Ledger
	metrics    http.Handler
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.NewMemoryLedger()
	sessionKey := testutil.MustSessionKey()
	m := metrics.New()

	agg, err := aggregator.NewAggregator(&aggregator.Config{
		Ledger:     l,
		SessionKey: sessionKey,
		Evaluator:  &testutil.ConstantEvaluator{Metric: 0.5},
		Initial:    testutil.Scalar(0),
		Logger:     log,
		Metrics:    m,
	})
	require.NoError(t, err)

	api, err := NewAPI(&APIConfig{Aggregator: agg, Ledger: l, Log: log, AdminToken: testAdminToken})
	require.NoError(t, err)

	base, err := httpserver.New(&httpserver.HTTPServerConfig{
		Log:         log,
		MetricsAddr: "127.0.0.1:0",
		Metrics:     m,
	}, api)
	require.NoError(t, err)

	server := httptest.NewServer(base.Handler())
	t.Cleanup(server.Close)

	return &testEnv{
		server:     server,
		client:     NewAPIClient(server.URL, testAdminToken),
		sessionKey: sessionKey,
		ledger:     l,
		metrics:    base.MetricsHandler(),
	}
}

type testClient struct {
	id  string
	pk  crypto.PublicKey
	key crypto.PrivateKey
}

func (e *testEnv) registerClient(t *testing.T, id string) *testClient {
	t.Helper()
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, e.client.RegisterClient(context.Background(), id, pk))
	return &testClient{id: id, pk: pk, key: sk}
}

func (e *testEnv) submit(t *testing.T, round protocol.RoundID, c *testClient, weight float64) {
	t.Helper()
	pkg, err := testutil.SealUpdate(c.id, c.key, e.sessionKey, testutil.Scalar(weight))
	require.NoError(t, err)
	_, err = e.client.SubmitUpdate(context.Background(), round, pkg)
	require.NoError(t, err)
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected an API error, got %v", err)
	require.Equal(t, status, apiErr.StatusCode)
}

func TestAPIRoundLifecycle(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()

	clients := []*testClient{
		env.registerClient(t, "client_1"),
		env.registerClient(t, "client_2"),
		env.registerClient(t, "client_3"),
	}

	registered, err := env.client.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, registered, 3)

	round, err := env.client.OpenRound(ctx)
	require.NoError(t, err)

	for i, weight := range []float64{1, 3, 5} {
		env.submit(t, round, clients[i], weight)
	}

	resp, err := env.client.Aggregate(ctx, round)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Accepted)
	require.Equal(t, 0, resp.Rejected)
	require.NotEmpty(t, resp.CheckpointID)

	model, err := env.client.Model(ctx)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{3}}, model.WeightRows())
	require.Equal(t, []float64{0}, model.BiasValues())

	checkpoints, err := env.client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	require.Equal(t, round, checkpoints[0].RoundID)
	require.Equal(t, 0.5, checkpoints[0].Metric)
	require.JSONEq(t, `{"weights":[[3]],"bias":[0]}`, string(checkpoints[0].Parameters))

	entries, err := env.client.Ledger(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "client_3", entries[0].ClientID)
	require.Len(t, entries[0].Digest, 64)

	// The round is closed now.
	_, err = env.client.Aggregate(ctx, round)
	requireStatus(t, err, http.StatusConflict)

	pkg, err := testutil.SealUpdate("client_1", clients[0].key, env.sessionKey, testutil.Scalar(9))
	require.NoError(t, err)
	_, err = env.client.SubmitUpdate(ctx, round, pkg)
	requireStatus(t, err, http.StatusConflict)

	status, err := env.client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), status.RoundsCompleted)
	require.Equal(t, uint64(3), status.RecordsAccepted)
	require.Equal(t, 3, status.Clients)
	require.Equal(t, 1, status.Rounds)
}

func TestAPINoValidUpdates(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()

	round, err := env.client.OpenRound(ctx)
	require.NoError(t, err)

	// Never registered.
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	env.submit(t, round, &testClient{id: "stranger", pk: pk, key: sk}, 7)

	_, err = env.client.Aggregate(ctx, round)
	requireStatus(t, err, http.StatusUnprocessableEntity)

	rounds, err := env.client.ListRounds(ctx)
	require.NoError(t, err)
	require.Equal(t, protocol.RoundOpen, rounds[0].Status)

	checkpoints, err := env.client.Checkpoints(ctx)
	require.NoError(t, err)
	require.Empty(t, checkpoints)
}

func TestAPIErrors(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()

	_, err := env.client.Aggregate(ctx, 42)
	requireStatus(t, err, http.StatusNotFound)

	resp, err := http.Get(env.server.URL + "/rounds/abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/ledger?limit=-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unauthenticated := NewAPIClient(env.server.URL, "")
	_, err = unauthenticated.OpenRound(ctx)
	requireStatus(t, err, http.StatusUnauthorized)

	// Reads stay open.
	_, err = unauthenticated.ListRounds(ctx)
	require.NoError(t, err)

	err = env.client.do(ctx, http.MethodPost, "/clients", &RegisterClientRequest{ClientID: "x", PublicKey: "nope"}, nil)
	requireStatus(t, err, http.StatusBadRequest)

	round, err := env.client.OpenRound(ctx)
	require.NoError(t, err)
	for _, body := range []string{`{"client_id":`, `{"ciphertext":"AAAA"}`} {
		resp, err = http.Post(fmt.Sprintf("%s/rounds/%d/updates", env.server.URL, round), "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestAPIGetRound(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()
	c := env.registerClient(t, "client_1")

	round, err := env.client.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, c, 1)

	var resp RoundResponse
	require.NoError(t, env.client.do(ctx, http.MethodGet, "/rounds/1", nil, &resp))
	require.Equal(t, round, resp.ID)
	require.Equal(t, 1, resp.Records)
	require.Equal(t, protocol.PhaseCollecting.String(), resp.Phase)
}

func TestHealthEndpoints(t *testing.T) {
	env := setupTestAPI(t)

	for path, want := range map[string]int{"/livez": 200, "/readyz": 200} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, want, resp.StatusCode, path)
	}

	resp, err := http.Get(env.server.URL + "/drain")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(env.server.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()
	require.NotNil(t, env.metrics)

	a := env.registerClient(t, "client_1")
	b := env.registerClient(t, "client_2")
	round, err := env.client.OpenRound(ctx)
	require.NoError(t, err)
	env.submit(t, round, a, 1)
	env.submit(t, round, b, 3)

	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	env.submit(t, round, &testClient{id: "stranger", pk: pk, key: sk}, 7)

	_, err = env.client.Aggregate(ctx, round)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	env.metrics.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	require.Contains(t, body, "fedledger_rounds_completed_total 1")
	require.Contains(t, body, "fedledger_records_accepted_total 2")
	require.Contains(t, body, `fedledger_records_discarded_total{reason="unknown_client"} 1`)
	require.Contains(t, body, `fedledger_records_discarded_total{reason="invalid_signature"} 0`)
}
