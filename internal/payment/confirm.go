package payment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/beanpay/internal/obs"
	"github.com/noah-isme/beanpay/internal/upstream"
)

// State enumerates the confirmation state machine. A confirmation starts in
// StateConfirming and reaches exactly one terminal state.
type State string

const (
	// StateConfirming is the initial state while the backend call is pending.
	StateConfirming State = "confirming"
	// StateSucceeded means the backend finalised the transaction.
	StateSucceeded State = "succeeded"
	// StateFailed means the provider or backend rejected the transaction, or
	// the call itself failed in transport.
	StateFailed State = "failed"
	// StateMalformed means required callback parameters were missing; no
	// backend call was made.
	StateMalformed State = "malformed"
)

// Outcome is the terminal result rendered to the client. RetryPath re-enters
// the originating flow; it never replays the confirmation call.
type Outcome struct {
	State               State       `json:"state"`
	Title               string      `json:"title"`
	Detail              string      `json:"detail,omitempty"`
	Informational       bool        `json:"informational,omitempty"`
	Code                Code        `json:"code,omitempty"`
	Token               *TokenGrant `json:"token,omitempty"`
	Subscription        *Membership `json:"subscription,omitempty"`
	RetryPath           string      `json:"retryPath,omitempty"`
	HomePath            string      `json:"homePath"`
	AutoRedirectSeconds int         `json:"autoRedirectSeconds,omitempty"`
}

// TokenGrant mirrors the credited token details from the backend response.
// Displayed amounts always come from the backend, never from the callback.
type TokenGrant struct {
	Symbol string `json:"symbol"`
	Amount int64  `json:"amount"`
}

// Membership mirrors the subscription details from the backend response.
type Membership struct {
	MembershipItemID string `json:"membershipItemId"`
	ItemName         string `json:"itemName"`
	Amount           int64  `json:"amount"`
	NextBillingAt    string `json:"nextBillingAt,omitempty"`
}

// Backend is the slice of the upstream client the confirmation flow needs.
type Backend interface {
	ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount int64) (upstream.PaymentResult, error)
	ConfirmBilling(ctx context.Context, authKey, customerKey, membershipItemID string) (upstream.BillingResult, error)
}

// SessionRefresher re-fetches the session snapshot after a successful
// confirmation. Refresh failures never roll back the confirmation.
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// AttemptRecorder journals intent and confirmation outcomes. Journal failures
// are logged, never surfaced to the user.
type AttemptRecorder interface {
	Record(ctx context.Context, orderID string, purpose string, amount int64) error
	Finish(ctx context.Context, orderID, status, providerCode string) error
}

// Confirmation is one page-instance of the confirmation handler. The latch
// guarantees at most one backend call per instance even when Run is invoked
// twice concurrently; the cross-request Guard handles replays of the same
// callback in fresh instances.
type Confirmation struct {
	latch   Latch
	done    chan struct{}
	outcome Outcome
}

// NewConfirmation constructs a confirmation in the initial state.
func NewConfirmation() *Confirmation {
	return &Confirmation{done: make(chan struct{})}
}

// Outcome blocks until the confirmation reached a terminal state and returns
// it. A settled outcome wins over a cancelled context: once terminal, the
// result is always reported.
func (c *Confirmation) Outcome(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	default:
	}
	select {
	case <-ctx.Done():
		return Outcome{State: StateConfirming}, ctx.Err()
	case <-c.done:
		return c.outcome, nil
	}
}

func (c *Confirmation) settle(out Outcome) {
	c.outcome = out
	close(c.done)
}

// Flow orchestrates the confirmation state machine.
type Flow struct {
	Backend  Backend
	Sessions SessionRefresher
	Guard    *Guard
	Journal  AttemptRecorder
	Logger   zerolog.Logger

	HomePath            string
	TopupRetryPath      string
	MembershipRetryPath string
	AutoRedirectSeconds int
}

// Run drives a confirmation to its terminal state. Calling Run again on the
// same Confirmation (a re-render of the hosting page) never issues a second
// backend call: the latch is armed synchronously before the call is
// dispatched, and losers wait for the winner's outcome.
func (f *Flow) Run(ctx context.Context, c *Confirmation, cb Callback) (Outcome, error) {
	if cb.Malformed() {
		// Terminal without any backend call.
		if c.latch.TryArm() {
			c.settle(f.malformedOutcome(cb))
			f.count(cb.Purpose, StateMalformed)
		}
		return c.Outcome(ctx)
	}
	if cb.Failed {
		if c.latch.TryArm() {
			c.settle(f.failureOutcome(cb, cb.FailCode, cb.FailMessage))
			f.finishJournal(ctx, cb, "FAILED", string(cb.FailCode))
			f.count(cb.Purpose, StateFailed)
		}
		return c.Outcome(ctx)
	}

	// Arm before await: the latch is claimed synchronously, so a second Run
	// racing this one observes an armed latch and waits instead of issuing a
	// duplicate confirm call.
	if !c.latch.TryArm() {
		return c.Outcome(ctx)
	}

	out := f.confirm(ctx, cb)
	c.settle(out)
	f.count(cb.Purpose, out.State)
	return out, nil
}

func (f *Flow) confirm(ctx context.Context, cb Callback) Outcome {
	acquired, err := f.Guard.Acquire(ctx, cb.Fingerprint())
	if err != nil {
		// Degraded mode: the per-instance latch still holds, and the backend
		// enforces idempotency server-side.
		f.Logger.Warn().Err(err).Msg("confirm guard unavailable")
		acquired = true
	}
	if !acquired {
		return f.failureOutcome(cb, CodeAlreadyProcessed, "")
	}

	switch cb.Purpose {
	case PurposeMembership:
		return f.confirmBilling(ctx, cb)
	default:
		return f.confirmTopup(ctx, cb)
	}
}

func (f *Flow) confirmTopup(ctx context.Context, cb Callback) Outcome {
	result, err := f.Backend.ConfirmPayment(ctx, cb.PaymentKey, cb.OrderID, cb.Amount)
	if err != nil {
		return f.confirmError(ctx, cb, err)
	}
	f.finishJournal(ctx, cb, "CONFIRMED", "")
	f.refreshSession(ctx)

	out := Outcome{
		State:               StateSucceeded,
		Title:               "결제 완료",
		HomePath:            f.homePath(),
		AutoRedirectSeconds: f.AutoRedirectSeconds,
	}
	if result.Token != nil {
		out.Token = &TokenGrant{Symbol: result.Token.Symbol, Amount: result.Token.Amount}
		out.Detail = fmt.Sprintf("%d %s이 충전되었습니다.", result.Token.Amount, result.Token.Symbol)
	}
	return out
}

func (f *Flow) confirmBilling(ctx context.Context, cb Callback) Outcome {
	result, err := f.Backend.ConfirmBilling(ctx, cb.AuthKey, cb.CustomerKey, cb.MembershipItemID)
	if err != nil {
		return f.confirmError(ctx, cb, err)
	}
	f.finishJournal(ctx, cb, "CONFIRMED", "")
	// Sequenced strictly after the confirm response, before the outcome is
	// final, so the subscription details render against fresh entitlements.
	f.refreshSession(ctx)

	out := Outcome{
		State:               StateSucceeded,
		Title:               "구독 완료",
		HomePath:            f.homePath(),
		AutoRedirectSeconds: f.AutoRedirectSeconds,
	}
	if result.Subscription != nil {
		out.Subscription = &Membership{
			MembershipItemID: result.Subscription.MembershipItemID,
			ItemName:         result.Subscription.ItemName,
			Amount:           result.Subscription.Amount,
		}
		if !result.Subscription.NextBillingAt.IsZero() {
			out.Subscription.NextBillingAt = result.Subscription.NextBillingAt.Format("2006-01-02")
		}
		out.Detail = fmt.Sprintf("%s 멤버십 구독이 시작되었습니다.", result.Subscription.ItemName)
	}
	return out
}

func (f *Flow) confirmError(ctx context.Context, cb Callback, err error) Outcome {
	if ue, ok := upstream.AsError(err); ok && ue.Kind == upstream.KindBusiness {
		f.finishJournal(ctx, cb, "FAILED", ue.Code)
		return f.failureOutcome(cb, Code(ue.Code), ue.Message)
	}
	// Transport failure: the transaction state is unknown, so the fingerprint
	// claim is released; a fresh landing on the same callback may try again.
	if releaseErr := f.Guard.Release(ctx, cb.Fingerprint()); releaseErr != nil {
		f.Logger.Warn().Err(releaseErr).Msg("release confirm guard")
	}
	f.Logger.Error().Err(err).Str("order_id", cb.OrderID).Msg("confirm call failed")
	return f.failureOutcome(cb, "", "")
}

func (f *Flow) refreshSession(ctx context.Context) {
	if f.Sessions == nil {
		return
	}
	if err := f.Sessions.Refresh(ctx); err != nil {
		// Stale UI until the next natural refresh; the confirmation stands.
		f.Logger.Warn().Err(err).Msg("session refresh after confirm failed")
	}
}

func (f *Flow) finishJournal(ctx context.Context, cb Callback, status, code string) {
	if f.Journal == nil || cb.OrderID == "" {
		return
	}
	if err := f.Journal.Finish(ctx, cb.OrderID, status, code); err != nil {
		f.Logger.Warn().Err(err).Str("order_id", cb.OrderID).Msg("journal update failed")
	}
}

func (f *Flow) malformedOutcome(cb Callback) Outcome {
	return Outcome{
		State:     StateMalformed,
		Title:     "결제 정보가 올바르지 않습니다",
		RetryPath: f.retryPath(cb),
		HomePath:  f.homePath(),
	}
}

func (f *Flow) failureOutcome(cb Callback, code Code, raw string) Outcome {
	title := "결제 실패"
	if code.Informational() {
		title = "결제 취소"
	}
	return Outcome{
		State:         StateFailed,
		Title:         title,
		Detail:        code.Message(raw),
		Informational: code.Informational(),
		Code:          code,
		RetryPath:     f.retryPath(cb),
		HomePath:      f.homePath(),
	}
}

func (f *Flow) retryPath(cb Callback) string {
	if cb.Purpose == PurposeMembership {
		base := f.MembershipRetryPath
		if base == "" {
			base = "/memberships"
		}
		if cb.MembershipItemID != "" {
			return base + "/" + cb.MembershipItemID
		}
		return base
	}
	if f.TopupRetryPath != "" {
		return f.TopupRetryPath
	}
	return "/topup"
}

func (f *Flow) homePath() string {
	if f.HomePath != "" {
		return f.HomePath
	}
	return "/"
}

func (f *Flow) count(purpose Purpose, state State) {
	if obs.PaymentConfirmTotal != nil {
		obs.PaymentConfirmTotal.WithLabelValues(string(purpose), string(state)).Inc()
	}
}
