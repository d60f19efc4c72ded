package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Ranjithdurai451/spark-code/internal/adapter/driven/gemini"
	"github.com/Ranjithdurai451/spark-code/internal/adapter/driven/judge0"
	"github.com/Ranjithdurai451/spark-code/internal/application"
	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	gate        *application.AccessGate
	credentials *application.CredentialService
	credits     driven.CreditStore
	sessions    *SessionManager
	gemini      *gemini.Client
	judge0      *judge0.Client
	cookieTTL   time.Duration
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. cookieTTL
// bounds the lifetime of the encrypted key bundle cookie.
func NewHandler(
	gate *application.AccessGate,
	credentials *application.CredentialService,
	credits driven.CreditStore,
	sessions *SessionManager,
	geminiClient *gemini.Client,
	judge0Client *judge0.Client,
	cookieTTL time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		gate:        gate,
		credentials: credentials,
		credits:     credits,
		sessions:    sessions,
		gemini:      geminiClient,
		judge0:      judge0Client,
		cookieTTL:   cookieTTL,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/session", h.CreateSession)
	mux.HandleFunc("POST /api/v1/signout", h.SignOut)

	mux.HandleFunc("GET /api/v1/credits", h.GetCredits)
	mux.HandleFunc("GET /api/v1/credits/transactions", h.ListTransactions)
	mux.HandleFunc("POST /api/v1/credits/redeem", h.RedeemCredits)

	mux.HandleFunc("POST /api/v1/keys", h.SaveKeys)
	mux.HandleFunc("DELETE /api/v1/keys", h.DeleteKeys)

	mux.HandleFunc("POST /api/v1/analyze", h.meteredGemini(model.FeatureAnalyze))
	mux.HandleFunc("POST /api/v1/explain", h.meteredGemini(model.FeatureExplain))
	mux.HandleFunc("POST /api/v1/optimize", h.meteredGemini(model.FeatureOptimize))
	mux.HandleFunc("POST /api/v1/generate", h.meteredGemini(model.FeatureGenerate))
	mux.HandleFunc("POST /api/v1/execute", h.Execute)

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// requireUser resolves the authenticated user or writes a 401.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.sessions.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, string(application.CodeUnauthenticated), "sign in required")
		return "", false
	}
	return userID, true
}

// --- Session ---

// CreateSession issues a session cookie. This is the dev stand-in for the
// OAuth sign-in collaborator, which is outside this service.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	h.sessions.Issue(w, req.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID})
}

// SignOut clears the session and key cookies and drops the user's cached
// secrets so nothing survives into the next sign-in within the TTL window.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if userID, err := h.sessions.Verify(r); err == nil {
		if err := h.credentials.Invalidate(r.Context(), userID); err != nil {
			h.logger.Warn("invalidate credential cache on sign-out", "error", err)
		}
	}
	h.sessions.Clear(w)
	clearKeyBundleCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// --- Credits ---

// GetCredits returns the user's account balance, creating the account with
// its initial grant on first sight.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	account, err := h.credits.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		h.logger.Error("load credit account", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, string(application.CodeLedgerUnavailable), "credit ledger unavailable, try again")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      account.UserID,
		"balance":      account.Balance,
		"total_earned": account.TotalEarned,
		"total_spent":  account.TotalSpent,
	})
}

// transactionResponse is the JSON representation of one ledger entry.
type transactionResponse struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ExternalRef string            `json:"external_ref,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// ListTransactions returns the user's ledger entries, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	txns, err := h.credits.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list transactions", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, string(application.CodeLedgerUnavailable), "credit ledger unavailable, try again")
		return
	}

	resp := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		resp = append(resp, transactionResponse{
			ID:          txn.ID,
			Category:    string(txn.Category),
			Amount:      txn.Amount,
			Description: txn.Description,
			Metadata:    txn.Metadata,
			ExternalRef: txn.ExternalRef,
			CreatedAt:   txn.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// RedeemCredits applies a verified purchase to the user's balance. The
// payment verification itself happens in the payment collaborator; this
// endpoint trusts the reference and relies on the ledger's idempotency
// guard against replays.
func (h *Handler) RedeemCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 || req.Reference == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "amount (positive) and reference are required")
		return
	}

	result, err := h.credits.AddCredits(r.Context(), userID, req.Amount, "credit purchase", req.Reference)
	if errors.Is(err, driven.ErrDuplicateReference) {
		writeError(w, http.StatusConflict, "duplicate_reference", "payment reference already redeemed")
		return
	}
	if err != nil {
		h.logger.Error("add credits", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, string(application.CodeLedgerUnavailable), "credit ledger unavailable, try again")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance":        result.NewBalance,
		"transaction_id": result.TransactionID,
	})
}

// --- Keys (bring-your-own-key mode) ---

// SaveKeys validates the submitted keys, encrypts them for the user, and
// stores the bundle client-side in the key cookie.
func (h *Handler) SaveKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if h.gate.Mode() != model.KeyModeLocal {
		writeError(w, http.StatusBadRequest, "managed_mode", "key submission is disabled in managed mode")
		return
	}

	var req struct {
		GeminiKey string `json:"gemini_key"`
		Judge0Key string `json:"judge0_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	if req.GeminiKey != "" {
		if err := h.gemini.ValidateKey(r.Context(), req.GeminiKey); err != nil {
			h.logger.Info("gemini key validation failed", "user_id", userID, "error", err)
			writeError(w, http.StatusUnprocessableEntity, "invalid_key", "gemini key was rejected by the upstream")
			return
		}
	}

	bundle, err := h.credentials.EncryptBundle(userID, req.GeminiKey, req.Judge0Key)
	if errors.Is(err, application.ErrCredentialsMissing) {
		writeError(w, http.StatusBadRequest, "bad_request", "at least one key is required")
		return
	}
	if err != nil {
		h.logger.Error("encrypt key bundle", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	// Replacing keys drops the previous decrypted entry immediately.
	if err := h.credentials.Invalidate(r.Context(), userID); err != nil {
		h.logger.Warn("invalidate credential cache on key save", "error", err)
	}

	if err := writeKeyBundleCookie(w, bundle, h.cookieTTL); err != nil {
		h.logger.Error("write key bundle cookie", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteKeys removes the stored key bundle and the cached secrets.
func (h *Handler) DeleteKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.credentials.Invalidate(r.Context(), userID); err != nil {
		h.logger.Warn("invalidate credential cache on key delete", "error", err)
	}
	clearKeyBundleCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// --- Metered operations ---

// geminiRequest is the body of the text-generation endpoints. Analyze,
// explain, and optimize take code; generate takes a description.
type geminiRequest struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language"`
}

// buildPrompt turns a metered request into the model prompt.
func buildPrompt(feature model.Feature, req geminiRequest) (string, error) {
	switch feature {
	case model.FeatureAnalyze:
		if req.Code == "" {
			return "", fmt.Errorf("code is required")
		}
		return fmt.Sprintf("Analyze the following %s code for correctness, complexity, and edge cases:\n\n%s", req.Language, req.Code), nil
	case model.FeatureExplain:
		if req.Code == "" {
			return "", fmt.Errorf("code is required")
		}
		return fmt.Sprintf("Explain what the following %s code does, step by step:\n\n%s", req.Language, req.Code), nil
	case model.FeatureOptimize:
		if req.Code == "" {
			return "", fmt.Errorf("code is required")
		}
		return fmt.Sprintf("Suggest optimizations for the following %s code, preserving behavior:\n\n%s", req.Language, req.Code), nil
	case model.FeatureGenerate:
		if req.Description == "" {
			return "", fmt.Errorf("description is required")
		}
		return fmt.Sprintf("Write %s code for the following task:\n\n%s", req.Language, req.Description), nil
	default:
		return "", fmt.Errorf("feature %q is not a text-generation feature", feature)
	}
}

// meteredGemini returns the handler for one Gemini-backed feature.
func (h *Handler) meteredGemini(feature model.Feature) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.requireUser(w, r)
		if !ok {
			return
		}

		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}
		prompt, err := buildPrompt(feature, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		bundle, err := readKeyBundleCookie(r)
		if err != nil {
			h.logger.Info("malformed key bundle cookie", "user_id", userID, "error", err)
			writeError(w, http.StatusUnauthorized, string(application.CodeCredentialsInvalid), "keys expired or invalid")
			return
		}

		var text string
		result, err := h.gate.Run(r.Context(), userID, feature, bundle,
			func(ctx context.Context, key string) error {
				out, opErr := h.gemini.GenerateText(ctx, key, prompt)
				if opErr != nil {
					return opErr
				}
				text = out
				return nil
			})
		if err != nil {
			writeGateError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"result":         text,
			"balance":        result.Balance,
			"transaction_id": result.TransactionID,
		})
	}
}

// Execute runs a code submission through the Judge0 sandbox.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req judge0.Submission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceCode == "" || req.LanguageID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "source_code and language_id are required")
		return
	}

	bundle, err := readKeyBundleCookie(r)
	if err != nil {
		h.logger.Info("malformed key bundle cookie", "user_id", userID, "error", err)
		writeError(w, http.StatusUnauthorized, string(application.CodeCredentialsInvalid), "keys expired or invalid")
		return
	}

	var execution judge0.Result
	result, err := h.gate.Run(r.Context(), userID, model.FeatureExecute, bundle,
		func(ctx context.Context, key string) error {
			out, opErr := h.judge0.Execute(ctx, key, req)
			if opErr != nil {
				return opErr
			}
			execution = out
			return nil
		})
	if err != nil {
		writeGateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"execution":      execution,
		"balance":        result.Balance,
		"transaction_id": result.TransactionID,
	})
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
