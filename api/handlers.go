/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the points engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger service.

ENDPOINTS:
  Users:
    GET    /api/users                  List users
    POST   /api/users                  Create user
    GET    /api/users/{id}             Get user

  Points:
    GET    /api/users/{id}/points        Ledger entry history
    POST   /api/users/{id}/points        Record earned points
    POST   /api/users/{id}/points/spend  Spend points (oldest-first)
    GET    /api/users/{id}/balance       Total + per-payer balance

  Payers:
    GET    /api/payers                 List payers (?name= for lookup)
    POST   /api/payers                 Create payer
    GET    /api/payers/{id}            Get payer

  Dev:
    POST   /api/seed                   Load demo payers and a demo user

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: User/payer not found
  - 409: Duplicates, unresolved write conflicts
  - 422: Well-formed spend that exceeds the balance
  - 500: Internal errors, ledger inconsistency

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	Payers  ledger.PayerStore
	Users   ledger.UserStore
}

// NewHandler creates a new handler around the engine service and the
// payer/user stores.
func NewHandler(svc *ledger.Service, payers ledger.PayerStore, users ledger.UserStore) *Handler {
	return &Handler{
		Service: svc,
		Payers:  payers,
		Users:   users,
	}
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// ListUsers returns all users.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = UserDTO{ID: int64(u.ID), Username: u.Username}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates a new user.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required", nil)
		return
	}

	id, err := h.Users.AddUser(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateUser) {
			writeError(w, http.StatusConflict, "Username already taken", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	writeJSON(w, http.StatusCreated, UserDTO{ID: int64(id), Username: req.Username})
}

// GetUser returns a single user.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	u, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}

	writeJSON(w, http.StatusOK, UserDTO{ID: int64(u.ID), Username: u.Username})
}

// =============================================================================
// POINTS ENDPOINTS
// =============================================================================

// GetEntries returns the user's ledger history, oldest first.
// GET /api/users/{id}/points
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.Service.Entries(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entries", err)
		return
	}

	names := h.payerNames(r)

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:        int64(e.ID),
			PayerID:   int64(e.PayerID),
			Payer:     names[e.PayerID],
			Points:    e.Points,
			Timestamp: e.Timestamp.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Earn records points earned from a payer.
// POST /api/users/{id}/points
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		var err error
		ts, err = time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timestamp (use RFC 3339)", err)
			return
		}
	}

	if _, err := h.Users.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if _, err := h.Payers.GetPayerByID(r.Context(), ledger.PayerID(req.PayerID)); err != nil {
		if errors.Is(err, ledger.ErrPayerNotFound) {
			writeError(w, http.StatusNotFound, "Payer not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get payer", err)
		return
	}

	entry, err := h.Service.Earn(r.Context(), ledger.EarnRequest{
		UserID:         userID,
		PayerID:        ledger.PayerID(req.PayerID),
		Points:         req.Points,
		Timestamp:      ts,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Points must be positive", err)
		case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
			writeError(w, http.StatusConflict, "Duplicate submission", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to record points", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, EntryDTO{
		ID:        int64(entry.ID),
		PayerID:   req.PayerID,
		Points:    req.Points,
		Timestamp: entry.Timestamp.Format(time.RFC3339),
	})
}

// Spend debits points from the user's ledger, oldest entries first, and
// responds with the per-payer breakdown.
// POST /api/users/{id}/points/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if _, err := h.Users.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}

	result, err := h.Service.Spend(r.Context(), userID, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "Points must be positive", err)
		case errors.Is(err, ledger.ErrInsufficientBalance):
			writeError(w, http.StatusUnprocessableEntity, "Insufficient balance", err)
		case errors.Is(err, ledger.ErrConcurrentModification):
			writeError(w, http.StatusConflict, "Spend conflicted with concurrent writes, try again", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to spend points", err)
		}
		return
	}

	names := h.payerNames(r)

	resp := SpendResponse{SpendID: result.SpendID}
	for _, d := range result.Deltas {
		resp.Deltas = append(resp.Deltas, PayerPointsDTO{
			PayerID: int64(d.PayerID),
			Payer:   names[d.PayerID],
			Points:  d.Points,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBalance returns the user's total and per-payer balances.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	total, err := h.Service.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}

	byPayer, err := h.Service.BalancesByPayer(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payer balances", err)
		return
	}

	names := h.payerNames(r)

	dto := BalanceDTO{UserID: int64(userID), Total: total, Payers: []PayerPointsDTO{}}
	for _, payerID := range sortedPayerIDs(byPayer) {
		dto.Payers = append(dto.Payers, PayerPointsDTO{
			PayerID: int64(payerID),
			Payer:   names[payerID],
			Points:  byPayer[payerID],
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PAYER ENDPOINTS
// =============================================================================

// ListPayers returns all payers, or a single payer when ?name= is given.
// GET /api/payers
func (h *Handler) ListPayers(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		p, err := h.Payers.GetPayerByName(r.Context(), name)
		if err != nil {
			if errors.Is(err, ledger.ErrPayerNotFound) {
				writeError(w, http.StatusNotFound, "Payer not found", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to get payer", err)
			return
		}
		writeJSON(w, http.StatusOK, PayerDTO{ID: int64(p.ID), Name: p.Name})
		return
	}

	payers, err := h.Payers.ListPayers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payers", err)
		return
	}

	dtos := make([]PayerDTO, len(payers))
	for i, p := range payers {
		dtos[i] = PayerDTO{ID: int64(p.ID), Name: p.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayer creates a new payer.
// POST /api/payers
func (h *Handler) CreatePayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "payer name is required", nil)
		return
	}

	id, err := h.Payers.AddPayer(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicatePayer) {
			writeError(w, http.StatusConflict, "Payer already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create payer", err)
		return
	}

	writeJSON(w, http.StatusCreated, PayerDTO{ID: int64(id), Name: req.Name})
}

// GetPayer returns a single payer by id.
// GET /api/payers/{id}
func (h *Handler) GetPayer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payer id", err)
		return
	}

	p, err := h.Payers.GetPayerByID(r.Context(), ledger.PayerID(id))
	if err != nil {
		if errors.Is(err, ledger.ErrPayerNotFound) {
			writeError(w, http.StatusNotFound, "Payer not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get payer", err)
		return
	}

	writeJSON(w, http.StatusOK, PayerDTO{ID: int64(p.ID), Name: p.Name})
}

// =============================================================================
// DEV SEED
// =============================================================================

// Seed loads the demo payers and a demo user. Idempotent: existing records
// are kept.
// POST /api/seed
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, name := range []string{"DANNON", "UNILEVER", "MILLER COORS"} {
		if _, err := h.Payers.AddPayer(ctx, name); err != nil && !errors.Is(err, ledger.ErrDuplicatePayer) {
			writeError(w, http.StatusInternalServerError, "Failed to seed payers", err)
			return
		}
	}
	if _, err := h.Users.AddUser(ctx, "demo"); err != nil && !errors.Is(err, ledger.ErrDuplicateUser) {
		writeError(w, http.StatusInternalServerError, "Failed to seed user", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

// =============================================================================
// HELPERS
// =============================================================================

func userIDParam(w http.ResponseWriter, r *http.Request) (ledger.UserID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id", err)
		return 0, false
	}
	return ledger.UserID(id), true
}

// payerNames returns an id->name map for response decoration. A lookup
// failure degrades to ids-only responses rather than failing the request.
func (h *Handler) payerNames(r *http.Request) map[ledger.PayerID]string {
	names := make(map[ledger.PayerID]string)
	payers, err := h.Payers.ListPayers(r.Context())
	if err != nil {
		return names
	}
	for _, p := range payers {
		names[p.ID] = p.Name
	}
	return names
}

func sortedPayerIDs(m map[ledger.PayerID]int64) []ledger.PayerID {
	ids := make([]ledger.PayerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
