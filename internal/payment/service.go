package payment

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/obs"
	"github.com/noah-isme/beanpay/internal/upstream"
)

// Preparer is the slice of the upstream client the intent initiator needs.
type Preparer interface {
	PreparePayment(ctx context.Context, amount int64, productID string) (upstream.PreparedPayment, error)
	PrepareBilling(ctx context.Context, membershipItemID string) (upstream.PreparedBilling, error)
}

// ExpiryScheduler schedules the journal sweep that marks an attempt abandoned
// when no callback arrives within the intent TTL.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, orderID string, delay time.Duration) error
}

// Service implements the transaction intent initiator. It obtains an intent
// from the backend, builds the redirect URLs the hosted widget will bounce
// back to, and hands the widget invocation parameters to the client. It never
// mutates session state and never retries on its own.
type Service struct {
	Backend   Preparer
	Journal   AttemptRecorder
	Expiry    ExpiryScheduler
	Validate  *validator.Validate
	Logger    zerolog.Logger
	ClientKey string
	BaseURL   string
	IntentTTL time.Duration
}

// TopupRequest is the payload for a balance top-up intent.
type TopupRequest struct {
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	ProductID string `json:"productId" validate:"required"`
}

// Intent is everything the client needs to invoke the hosted payment widget.
// It is immutable once issued; its lifetime ends when the confirmation flow
// consumes the matching callback.
type Intent struct {
	Purpose     Purpose `json:"purpose"`
	OrderID     string  `json:"orderId,omitempty"`
	CustomerKey string  `json:"customerKey"`
	ClientKey   string  `json:"clientKey"`
	Amount      int64   `json:"amount"`
	OrderName   string  `json:"orderName,omitempty"`
	ItemName    string  `json:"itemName,omitempty"`
	SuccessURL  string  `json:"successUrl"`
	FailURL     string  `json:"failUrl"`
	RequestID   string  `json:"requestId"`
}

// CreateTopupIntent prepares a one-time balance charge with the backend.
func (s *Service) CreateTopupIntent(ctx context.Context, req TopupRequest) (Intent, error) {
	result := "error"
	defer func() { s.countIntent(PurposeTopup, result) }()

	if s.Validate != nil {
		if err := s.Validate.Struct(req); err != nil {
			result = "invalid"
			return Intent{}, err
		}
	}
	prepared, err := s.Backend.PreparePayment(ctx, req.Amount, req.ProductID)
	if err != nil {
		return Intent{}, err
	}
	intent := Intent{
		Purpose:     PurposeTopup,
		OrderID:     prepared.OrderID,
		CustomerKey: prepared.CustomerKey,
		ClientKey:   s.ClientKey,
		Amount:      prepared.Amount,
		OrderName:   prepared.OrderName,
		SuccessURL:  s.BaseURL + "/payments/success",
		FailURL:     s.BaseURL + "/payments/fail",
		RequestID:   uuid.NewString(),
	}
	s.journalIntent(ctx, prepared.OrderID, PurposeTopup, prepared.Amount)
	result = "success"
	return intent, nil
}

// CreateMembershipIntent prepares a billing-auth registration for the given
// membership item. The redirect URLs carry the membership item id and
// customer key so the confirmation flow can reconstruct the intent from the
// callback alone.
func (s *Service) CreateMembershipIntent(ctx context.Context, membershipItemID string) (Intent, error) {
	result := "error"
	defer func() { s.countIntent(PurposeMembership, result) }()

	membershipItemID = strings.TrimSpace(membershipItemID)
	if membershipItemID == "" {
		result = "invalid"
		return Intent{}, common.NewAppError("membership_item_required",
			"멤버십 정보가 올바르지 않습니다.", http.StatusBadRequest, nil)
	}

	prepared, err := s.Backend.PrepareBilling(ctx, membershipItemID)
	if err != nil {
		return Intent{}, err
	}

	succ := url.Values{}
	succ.Set("membershipItemId", prepared.MembershipItemID)
	succ.Set("customerKey", prepared.CustomerKey)
	fail := url.Values{}
	fail.Set("membershipItemId", prepared.MembershipItemID)

	intent := Intent{
		Purpose:     PurposeMembership,
		CustomerKey: prepared.CustomerKey,
		ClientKey:   s.ClientKey,
		Amount:      prepared.Amount,
		ItemName:    prepared.ItemName,
		SuccessURL:  s.BaseURL + "/billing/success?" + succ.Encode(),
		FailURL:     s.BaseURL + "/billing/fail?" + fail.Encode(),
		RequestID:   uuid.NewString(),
	}
	result = "success"
	return intent, nil
}

func (s *Service) journalIntent(ctx context.Context, orderID string, purpose Purpose, amount int64) {
	if s.Journal != nil {
		if err := s.Journal.Record(ctx, orderID, string(purpose), amount); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("journal intent failed")
		}
	}
	if s.Expiry != nil {
		ttl := s.IntentTTL
		if ttl <= 0 {
			ttl = 30 * time.Minute
		}
		if err := s.Expiry.ScheduleExpiry(ctx, orderID, ttl); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("schedule intent expiry failed")
		}
	}
}

func (s *Service) countIntent(purpose Purpose, result string) {
	if obs.PaymentIntentTotal != nil {
		obs.PaymentIntentTotal.WithLabelValues(string(purpose), result).Inc()
	}
}
