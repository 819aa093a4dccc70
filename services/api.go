package services

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/flashbots/fedledger/aggregator"
	"github.com/flashbots/fedledger/crypto"
	"github.com/flashbots/fedledger/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultLedgerLimit is the number of entries GET /ledger returns when no
// limit is given.
const DefaultLedgerLimit = 50

// APIConfig configures the orchestration API.
type APIConfig struct {
	Aggregator *aggregator.AggregatorImpl
	Ledger     protocol.Ledger
	Log        *slog.Logger
	// AdminToken (user:pass) guards the state-changing orchestration
	// endpoints with basic auth. Empty leaves them open.
	AdminToken string
}

// API exposes the ledger and the aggregator over HTTP. It is an
// orchestration surface: clients can also write to the ledger directly.
type API struct {
	aggregator *aggregator.AggregatorImpl
	ledger     protocol.Ledger
	log        *slog.Logger
	adminToken string
}

// NewAPI creates the API handler.
func NewAPI(config *APIConfig) (*API, error) {
	if config == nil || config.Aggregator == nil || config.Ledger == nil {
		return nil, errors.New("aggregator and ledger are required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	return &API{
		aggregator: config.Aggregator,
		ledger:     config.Ledger,
		log:        log,
		adminToken: config.AdminToken,
	}, nil
}

// RegisterRoutes registers the API routes.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/clients", a.handleListClients)
	r.Get("/rounds", a.handleListRounds)
	r.Get("/rounds/{round}", a.handleGetRound)
	r.Post("/rounds/{round}/updates", a.handleSubmitUpdate)
	r.Get("/ledger", a.handleLedger)
	r.Get("/checkpoints", a.handleCheckpoints)
	r.Get("/model", a.handleModel)
	r.Get("/status", a.handleStatus)

	r.Group(func(r chi.Router) {
		if a.adminToken != "" {
			user, pass := parseAdminToken(a.adminToken)
			r.Use(middleware.BasicAuth("fedledger", map[string]string{user: pass}))
		}
		r.Post("/clients", a.handleRegisterClient)
		r.Post("/rounds", a.handleOpenRound)
		r.Post("/rounds/{round}/aggregate", a.handleAggregate)
	})
}

func parseAdminToken(token string) (user, pass string) {
	idx := strings.Index(token, ":")
	if idx < 0 {
		return token, ""
	}
	return token[:idx], token[idx+1:]
}

// statusFor maps protocol errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrRoundClosed),
		errors.Is(err, protocol.ErrAggregationInProgress):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrNoValidUpdates):
		return http.StatusUnprocessableEntity
	case errors.Is(err, protocol.ErrRegistration):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func roundParam(r *http.Request) (protocol.RoundID, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "round"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid round id %q", chi.URLParam(r, "round"))
	}
	return protocol.RoundID(id), nil
}

func (a *API) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	publicKey, err := crypto.NewPublicKeyFromString(req.PublicKey)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid public key: %v", err), http.StatusBadRequest)
		return
	}

	if err := a.ledger.RegisterClient(r.Context(), req.ClientID, publicKey); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.log.Info("registered client", "client", req.ClientID)
	writeJSON(w, http.StatusOK, &ClientResponse{ClientID: req.ClientID, PublicKey: publicKey.String()})
}

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := a.ledger.ListClients(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := &ClientListResponse{Clients: make([]*ClientResponse, 0, len(clients))}
	for _, c := range clients {
		resp.Clients = append(resp.Clients, &ClientResponse{
			ClientID:     c.ClientID,
			PublicKey:    c.PublicKey.String(),
			RegisteredAt: c.RegisteredAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	id, err := a.aggregator.OpenRound(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &OpenRoundResponse{RoundID: id})
}

func (a *API) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := a.ledger.ListRounds(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &RoundListResponse{Rounds: rounds})
}

func (a *API) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	round, err := a.ledger.GetRound(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	records, err := a.ledger.ListUpdateRecords(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := &RoundResponse{Round: round, Records: len(records)}
	if phase, ok := a.aggregator.Phase(id); ok {
		resp.Phase = phase.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSubmitUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pkg, err := protocol.DecodeMessage[protocol.UpdatePackage](r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if pkg.ClientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	record, err := a.aggregator.SubmitPackage(r.Context(), id, pkg)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, &SubmitUpdateResponse{
		RecordID: record.ID,
		RoundID:  record.RoundID,
		Digest:   hex.EncodeToString(record.Digest),
	})
}

func (a *API) handleAggregate(w http.ResponseWriter, r *http.Request) {
	id, err := roundParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := a.aggregator.RunAggregation(r.Context(), id)
	if err != nil {
		// A run without valid updates still reports what was rejected.
		if result != nil {
			writeJSON(w, statusFor(err), &AggregateResponse{Result: result, Error: err.Error()})
			return
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &AggregateResponse{Result: result})
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLedgerLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := a.ledger.ListRecentUpdateRecords(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := &LedgerResponse{Entries: make([]*LedgerEntry, 0, len(records))}
	for _, record := range records {
		resp.Entries = append(resp.Entries, NewLedgerEntry(record))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := a.ledger.ListCheckpoints(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := &CheckpointListResponse{Checkpoints: make([]*CheckpointResponse, 0, len(checkpoints))}
	for _, c := range checkpoints {
		item := &CheckpointResponse{ID: c.ID, RoundID: c.RoundID, Metric: c.Metric, CreatedAt: c.CreatedAt}
		if json.Valid(c.Parameters) {
			item.Parameters = c.Parameters
		}
		resp.Checkpoints = append(resp.Checkpoints, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.aggregator.GlobalParameters())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	clients, err := a.ledger.ListClients(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rounds, err := a.ledger.ListRounds(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &StatusResponse{
		Stats:   a.aggregator.Stats(),
		Clients: len(clients),
		Rounds:  len(rounds),
	})
}
