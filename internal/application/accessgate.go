package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Ranjithdurai451/spark-code/internal/crypto"
	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
)

// GateCode is the stable machine-readable code attached to every gate
// rejection. The driving adapter maps it straight to a response body.
type GateCode string

const (
	CodeUnauthenticated     GateCode = "unauthenticated"
	CodeUnknownFeature      GateCode = "unknown_feature"
	CodeInsufficientCredits GateCode = "insufficient_credits"
	CodeCredentialsInvalid  GateCode = "credentials_invalid"
	CodeQuotaExhausted      GateCode = "quota_exhausted"
	CodeLedgerUnavailable   GateCode = "ledger_unavailable"
	CodeUpstreamUnavailable GateCode = "upstream_unavailable"
)

// GateError is a terminal rejection of a metered request. Message is safe
// to show to the user; Err holds the internal cause and is never serialized
// into a response.
type GateError struct {
	Code      GateCode
	Status    int
	Retryable bool
	Message   string
	Err       error
}

func (e *GateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *GateError) Unwrap() error { return e.Err }

// GateResult reports a fulfilled metered request.
type GateResult struct {
	Balance       int64
	TransactionID string
}

// AccessGate is the composition root for metered requests: it resolves the
// account, debits credits, resolves upstream credentials for the deployment
// mode, and only then lets the upstream operation run.
//
// Billing policy is charge-on-attempt: a debit that succeeds is not rolled
// back when the downstream call fails. The compensating AddCredits path
// exists if a refund policy is ever adopted.
type AccessGate struct {
	credits     driven.CreditStore
	credentials *CredentialService
	invoker     *Invoker
	mode        model.KeyMode
	logger      *slog.Logger
}

// NewAccessGate creates an AccessGate for the deployment's key mode.
func NewAccessGate(
	credits driven.CreditStore,
	credentials *CredentialService,
	invoker *Invoker,
	mode model.KeyMode,
	logger *slog.Logger,
) *AccessGate {
	return &AccessGate{
		credits:     credits,
		credentials: credentials,
		invoker:     invoker,
		mode:        mode,
		logger:      logger,
	}
}

// Mode returns the deployment key mode the gate was built for.
func (g *AccessGate) Mode() model.KeyMode { return g.mode }

// Run executes one metered request. bundle carries the user's encrypted
// keys in bring-your-own-key mode and is ignored in managed mode. On any
// rejection the returned error is a *GateError.
func (g *AccessGate) Run(ctx context.Context, userID string, feature model.Feature, bundle *EncryptedKeyBundle, op driven.Operation) (GateResult, error) {
	// The mode is snapshotted once here; no component below re-derives it.
	mode := g.mode

	if userID == "" {
		return GateResult{}, &GateError{
			Code: CodeUnauthenticated, Status: http.StatusUnauthorized,
			Message: "sign in required",
		}
	}
	if !feature.Valid() {
		return GateResult{}, &GateError{
			Code: CodeUnknownFeature, Status: http.StatusBadRequest,
			Message: fmt.Sprintf("unknown feature %q", feature),
		}
	}

	if _, err := g.credits.GetOrCreateAccount(ctx, userID); err != nil {
		return GateResult{}, &GateError{
			Code: CodeLedgerUnavailable, Status: http.StatusInternalServerError, Retryable: true,
			Message: "credit ledger unavailable, try again", Err: err,
		}
	}

	debit, err := g.credits.ConsumeCredits(ctx, userID, feature.Cost(), string(feature), string(feature)+" request")
	if err != nil {
		return GateResult{}, &GateError{
			Code: CodeLedgerUnavailable, Status: http.StatusInternalServerError, Retryable: true,
			Message: "credit ledger unavailable, try again", Err: err,
		}
	}
	if !debit.Allowed {
		return GateResult{}, &GateError{
			Code: CodeInsufficientCredits, Status: http.StatusPaymentRequired,
			Message: "insufficient credits",
		}
	}

	result := GateResult{Balance: debit.NewBalance, TransactionID: debit.TransactionID}

	// Credits are spent from here on, including on failure paths below.
	switch mode {
	case model.KeyModeLocal:
		err = g.runWithUserKey(ctx, userID, feature, bundle, op)
	default:
		err = g.invoker.Invoke(ctx, feature.Service(), op)
	}
	if err != nil {
		g.logger.Warn("metered request failed after debit",
			"user_id", userID,
			"feature", feature,
			"mode", mode,
			"transaction_id", debit.TransactionID,
			"error", err,
		)
		return result, g.classifyUpstream(err)
	}

	return result, nil
}

// runWithUserKey executes op with the user's own key for the feature's
// service. There is no pool to rotate through in bring-your-own-key mode;
// the single key is tried once.
func (g *AccessGate) runWithUserKey(ctx context.Context, userID string, feature model.Feature, bundle *EncryptedKeyBundle, op driven.Operation) error {
	cred, err := g.credentials.Resolve(ctx, userID, bundle)
	if err != nil {
		return err
	}

	key, ok := cred.Secrets[feature.Service()]
	if !ok || key == "" {
		return fmt.Errorf("no %s key in credentials: %w", feature.Service(), ErrCredentialsMissing)
	}
	return op(ctx, key)
}

// classifyUpstream maps a post-debit failure to its terminal GateError.
func (g *AccessGate) classifyUpstream(err error) *GateError {
	switch {
	case errors.Is(err, ErrCredentialsMissing), errors.Is(err, crypto.ErrIntegrity):
		return &GateError{
			Code: CodeCredentialsInvalid, Status: http.StatusUnauthorized,
			Message: "keys expired or invalid", Err: err,
		}
	case IsQuotaError(err):
		return &GateError{
			Code: CodeQuotaExhausted, Status: http.StatusBadGateway, Retryable: true,
			Message: "upstream quota exhausted, try again later", Err: err,
		}
	default:
		return &GateError{
			Code: CodeUpstreamUnavailable, Status: http.StatusBadGateway, Retryable: true,
			Message: "upstream service unavailable", Err: err,
		}
	}
}
