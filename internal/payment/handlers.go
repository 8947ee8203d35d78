package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/upstream"
)

// HistorySource lists past transactions from the backend.
type HistorySource interface {
	PaymentHistory(ctx context.Context, page, limit int) ([]upstream.HistoryEntry, error)
}

// Handler exposes the intent endpoints, the four redirect landing routes and
// the payment history proxy.
type Handler struct {
	Svc     *Service
	Flow    *Flow
	History HistorySource
	Logger  zerolog.Logger

	// Short-lived read cache for the history proxy.
	Cache    *redis.Client
	CacheTTL time.Duration
}

// TopupIntent handles POST /api/v1/payments/topup/intent.
func (h *Handler) TopupIntent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "payment service unavailable")
		return
	}
	var req TopupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "요청 형식이 올바르지 않습니다.")
		return
	}
	intent, err := h.Svc.CreateTopupIntent(r.Context(), req)
	if err != nil {
		h.renderIntentError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, intent)
}

// MembershipIntent handles POST /api/v1/memberships/{itemId}/intent.
func (h *Handler) MembershipIntent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "payment service unavailable")
		return
	}
	intent, err := h.Svc.CreateMembershipIntent(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		h.renderIntentError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, intent)
}

// TopupSuccess handles GET /payments/success.
func (h *Handler) TopupSuccess(w http.ResponseWriter, r *http.Request) {
	h.runConfirmation(w, r, ParseTopupSuccess(r.URL.Query()))
}

// TopupFail handles GET /payments/fail.
func (h *Handler) TopupFail(w http.ResponseWriter, r *http.Request) {
	h.runConfirmation(w, r, ParseFail(PurposeTopup, r.URL.Query()))
}

// BillingSuccess handles GET /billing/success.
func (h *Handler) BillingSuccess(w http.ResponseWriter, r *http.Request) {
	h.runConfirmation(w, r, ParseBillingSuccess(r.URL.Query()))
}

// BillingFail handles GET /billing/fail.
func (h *Handler) BillingFail(w http.ResponseWriter, r *http.Request) {
	h.runConfirmation(w, r, ParseFail(PurposeMembership, r.URL.Query()))
}

func (h *Handler) runConfirmation(w http.ResponseWriter, r *http.Request, cb Callback) {
	if h == nil || h.Flow == nil {
		common.JSONError(w, http.StatusInternalServerError, "payment service unavailable")
		return
	}
	outcome, err := h.Flow.Run(r.Context(), NewConfirmation(), cb)
	if err != nil {
		// Only context cancellation surfaces here: the browser left before
		// the outcome settled. There is no client left to render to.
		h.Logger.Debug().Err(err).Msg("confirmation wait abandoned")
		return
	}
	status := http.StatusOK
	if outcome.State == StateMalformed {
		status = http.StatusBadRequest
	}
	if outcome.State == StateSucceeded {
		common.JSONMessage(w, status, outcome.Title, outcome)
		return
	}
	common.JSONErrorData(w, status, outcome.Title, outcome)
}

// PaymentHistory handles GET /api/v1/payments/history.
func (h *Handler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.History == nil {
		common.JSONError(w, http.StatusInternalServerError, "payment service unavailable")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	cacheKey := h.historyCacheKey(r.Context(), page, limit)
	if h.Cache != nil && cacheKey != "" {
		if raw, err := h.Cache.Get(r.Context(), cacheKey).Bytes(); err == nil {
			var entries []upstream.HistoryEntry
			if json.Unmarshal(raw, &entries) == nil {
				common.JSON(w, http.StatusOK, entries)
				return
			}
		}
	}

	entries, err := h.History.PaymentHistory(r.Context(), page, limit)
	if err != nil {
		h.renderIntentError(w, err)
		return
	}
	if h.Cache != nil && cacheKey != "" && h.CacheTTL > 0 {
		if raw, err := json.Marshal(entries); err == nil {
			if err := h.Cache.Set(r.Context(), cacheKey, raw, h.CacheTTL).Err(); err != nil {
				h.Logger.Warn().Err(err).Msg("cache history failed")
			}
		}
	}
	common.JSON(w, http.StatusOK, entries)
}

func (h *Handler) historyCacheKey(ctx context.Context, page, limit int) string {
	userID, ok := common.UserID(ctx)
	if !ok || userID == "" {
		return ""
	}
	return "history:" + userID + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(limit)
}

func (h *Handler) renderIntentError(w http.ResponseWriter, err error) {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		common.JSONError(w, http.StatusBadRequest, "요청 값이 올바르지 않습니다.")
		return
	}
	var ae *common.AppError
	if errors.As(err, &ae) {
		common.JSONError(w, ae.HTTPStatus, ae.Message)
		return
	}
	if ue, ok := upstream.AsError(err); ok {
		switch ue.Kind {
		case upstream.KindUnauthorized:
			common.JSONError(w, http.StatusUnauthorized, "세션이 만료되었습니다. 다시 로그인해주세요.")
			return
		case upstream.KindBusiness:
			msg := ue.Message
			if msg == "" {
				msg = genericFailureMessage
			}
			common.JSONError(w, http.StatusBadRequest, msg)
			return
		}
	}
	h.Logger.Error().Err(err).Msg("upstream call failed")
	common.JSONError(w, http.StatusBadGateway, "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요.")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
