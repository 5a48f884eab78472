// Package httpapi exposes the escrow operations as a REST API plus a
// websocket event stream. Handlers never trust a body-supplied caller; the
// identity always comes from the authentication middleware.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/escrow_service/internal/app/domain/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/escrowerr"
	escrowsvc "github.com/R3E-Network/escrow_service/internal/app/services/escrow"
	"github.com/R3E-Network/escrow_service/internal/app/storage"
	"github.com/R3E-Network/escrow_service/internal/engine/events"
	"github.com/R3E-Network/escrow_service/internal/middleware"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

// handler bundles the HTTP endpoints over the escrow operation layer.
type handler struct {
	svc *escrowsvc.Service
	log *logger.Logger
}

// NewHandler returns a router exposing the escrow REST API and the event
// websocket.
func NewHandler(svc *escrowsvc.Service, ring *events.RingBuffer, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{svc: svc, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/escrows", h.initialize).Methods(http.MethodPost)
	api.HandleFunc("/escrows", h.listByOwner).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{address}", h.get).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{address}", h.close).Methods(http.MethodDelete)
	api.HandleFunc("/escrows/{address}/deposit", h.deposit).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/authorities/platform", h.delegatePlatform).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/authorities/trading", h.delegateTrading).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/authorities/platform", h.revokePlatform).Methods(http.MethodDelete)
	api.HandleFunc("/escrows/{address}/authorities/trading", h.revokeTrading).Methods(http.MethodDelete)
	api.HandleFunc("/escrows/{address}/withdrawals/fee", h.withdrawFee).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/withdrawals/trade", h.withdrawTrade).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/withdrawals/owner", h.withdraw).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/withdrawals/emergency", h.emergencyWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/pause", h.pause).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/unpause", h.unpause).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/lifetime", h.setLifetime).Methods(http.MethodPut)
	api.HandleFunc("/escrows/{address}/events", h.eventTrail).Methods(http.MethodGet)

	if ring != nil {
		r.Handle("/ws/events", NewEventStream(ring, log))
	}
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) initialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var payload struct {
		TokenMint     escrow.Identity `json:"token_mint"`
		AddressSalt   uint8           `json:"address_salt"`
		TokenDecimals uint8           `json:"token_decimals"`
		MaxBalance    uint64          `json:"max_balance"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.svc.Initialize(r.Context(), caller, escrowsvc.InitializeParams{
		TokenMint:     payload.TokenMint,
		AddressSalt:   payload.AddressSalt,
		TokenDecimals: payload.TokenDecimals,
		MaxBalance:    payload.MaxBalance,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	rec, vault, err := h.svc.Get(r.Context(), address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrow": rec,
		"vault":  vault,
	})
}

func (h *handler) listByOwner(w http.ResponseWriter, r *http.Request) {
	ownerHex := r.URL.Query().Get("owner")
	if ownerHex == "" {
		writeError(w, http.StatusBadRequest, errors.New("owner query parameter required"))
		return
	}
	owner, err := escrow.ParseIdentity(ownerHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := h.svc.ListByOwner(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.Deposit)
}

func (h *handler) withdrawFee(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.WithdrawSubscriptionFee)
}

func (h *handler) withdrawTrade(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.WithdrawForTrade)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.Withdraw)
}

func (h *handler) emergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.EmergencyWithdraw)
}

// amountOp is the shared shape of the amount-carrying vault movements.
func (h *handler) amountOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller escrow.Identity, address string, amount uint64) (escrow.VaultAccount, error)) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var payload struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	vault, err := op(r.Context(), caller, mux.Vars(r)["address"], payload.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

// delegate is the shared shape of the two authority delegations.
func (h *handler) delegate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller escrow.Identity, address string, authority escrow.Identity) (escrow.Escrow, error)) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var payload struct {
		Authority escrow.Identity `json:"authority"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := op(r.Context(), caller, mux.Vars(r)["address"], payload.Authority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// revoke is the shared shape of the two authority revocations.
func (h *handler) revoke(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller escrow.Identity, address string) (escrow.Escrow, error)) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	rec, err := op(r.Context(), caller, mux.Vars(r)["address"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// callerIdentity pulls the authenticated identity off the request context.
func callerIdentity(w http.ResponseWriter, r *http.Request) (escrow.Identity, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok || caller.IsZero() {
		writeError(w, http.StatusUnauthorized, errors.New("caller identity required"))
		return escrow.Identity{}, false
	}
	return caller, true
}

func (h *handler) delegatePlatform(w http.ResponseWriter, r *http.Request) {
	h.delegate(w, r, h.svc.DelegatePlatformAuthority)
}

func (h *handler) delegateTrading(w http.ResponseWriter, r *http.Request) {
	h.delegate(w, r, h.svc.DelegateTradingAuthority)
}

func (h *handler) revokePlatform(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, h.svc.RevokePlatformAuthority)
}

func (h *handler) revokeTrading(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, h.svc.RevokeTradingAuthority)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Pause(r.Context(), caller, mux.Vars(r)["address"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Unpause(r.Context(), caller, mux.Vars(r)["address"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) setLifetime(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	var payload struct {
		MaxLifetime int64 `json:"max_lifetime"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.svc.SetMaxLifetime(r.Context(), caller, mux.Vars(r)["address"], payload.MaxLifetime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) close(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	if err := h.svc.Close(r.Context(), caller, mux.Vars(r)["address"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) eventTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := h.svc.Events(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeDomainError maps operation-layer errors onto HTTP responses: typed
// domain errors carry their own status and code, storage misses become 404,
// duplicate creations become 409.
func writeDomainError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(escrowerr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  escrowerr.CodeOf(err),
		"detail": err.Error(),
	})
}
