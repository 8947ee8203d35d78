package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/upstream"
)

type stubHistory struct {
	entries []upstream.HistoryEntry
	calls   int
	err     error
}

func (s *stubHistory) PaymentHistory(context.Context, int, int) ([]upstream.HistoryEntry, error) {
	s.calls++
	return s.entries, s.err
}

func newTestHandler(t *testing.T) (*Handler, *stubBackend) {
	t.Helper()
	backend := &stubBackend{
		paymentResult: upstream.PaymentResult{Token: &upstream.TokenGrant{Symbol: "BEAN", Amount: 100}},
	}
	flow := newTestFlow(backend, &stubRefresher{}, newTestGuard(t), &stubJournal{})
	svc := newTestService(
		&stubPreparer{payment: upstream.PreparedPayment{OrderID: "ord_1", CustomerKey: "cust_1", Amount: 11000, OrderName: "BEAN 100개"}},
		&recordingJournal{},
		&recordingScheduler{},
	)
	return &Handler{Svc: svc, Flow: flow, Logger: zerolog.Nop()}, backend
}

func router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/payments/topup/intent", h.TopupIntent)
	r.Post("/api/v1/memberships/{itemId}/intent", h.MembershipIntent)
	r.Get("/payments/success", h.TopupSuccess)
	r.Get("/payments/fail", h.TopupFail)
	r.Get("/billing/success", h.BillingSuccess)
	r.Get("/billing/fail", h.BillingFail)
	r.Get("/api/v1/payments/history", h.PaymentHistory)
	return r
}

func decodeEnvelope(t *testing.T, body []byte) common.Envelope {
	t.Helper()
	var env common.Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestTopupIntentEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{"amount":11000,"productId":"bean-100"}`))
	router(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.True(t, env.Success)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ord_1", data["orderId"])
	require.Equal(t, "ck_test", data["clientKey"])
}

func TestTopupIntentRejectsBadJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{`))
	router(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.False(t, decodeEnvelope(t, rr.Body.Bytes()).Success)
}

func TestTopupIntentRejectsInvalidPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{"amount":-5,"productId":"bean-100"}`))
	router(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.Equal(t, "요청 값이 올바르지 않습니다.", env.Message)
}

func TestMembershipIntentRejectsBlankItem(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memberships/x/intent", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("itemId", "   ")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rr := httptest.NewRecorder()
	h.MembershipIntent(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.False(t, env.Success)
	require.Equal(t, "멤버십 정보가 올바르지 않습니다.", env.Message)
}

func TestConfirmationLandingSuccess(t *testing.T) {
	h, backend := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/success?paymentKey=pk_1&orderId=ord_1&amount=11000", nil)
	router(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.True(t, env.Success)
	require.Equal(t, "결제 완료", env.Message)
	require.Equal(t, 1, backend.payments())
}

func TestConfirmationLandingMalformed(t *testing.T) {
	h, backend := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/success?paymentKey=pk_1&orderId=ord_1", nil)
	router(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.False(t, env.Success)
	require.Equal(t, "결제 정보가 올바르지 않습니다", env.Message)
	require.Zero(t, backend.payments())
}

func TestConfirmationLandingFail(t *testing.T) {
	h, backend := newTestHandler(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/fail?code=PAY_PROCESS_CANCELED&orderId=ord_1", nil)
	router(h).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.False(t, env.Success)
	require.Equal(t, "결제 취소", env.Message)
	require.Zero(t, backend.payments())
}

func TestConfirmationLandingCanceledRequestStillRenders(t *testing.T) {
	h, backend := newTestHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/payments/success?paymentKey=pk_1&orderId=ord_1", nil).WithContext(ctx)

	rr := httptest.NewRecorder()
	router(h).ServeHTTP(rr, req)

	// The outcome settled synchronously, so the gone client is still answered
	// with it rather than a server-fault status.
	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr.Body.Bytes())
	require.Equal(t, "결제 정보가 올바르지 않습니다", env.Message)
	require.Zero(t, backend.payments())
}

func TestPaymentHistoryCaches(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	history := &stubHistory{entries: []upstream.HistoryEntry{{
		OrderID: "ord_1",
		Purpose: "balance-topup",
		Amount:  11000,
		Status:  "CONFIRMED",
	}}}
	h := &Handler{History: history, Logger: zerolog.Nop(), Cache: client, CacheTTL: 30 * time.Second}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/history", nil)
	req = req.WithContext(common.WithUserID(req.Context(), "user-1"))

	rr1 := httptest.NewRecorder()
	h.PaymentHistory(rr1, req)
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, 1, history.calls)

	rr2 := httptest.NewRecorder()
	h.PaymentHistory(rr2, req)
	require.Equal(t, http.StatusOK, rr2.Code)
	require.Equal(t, 1, history.calls, "second read must come from cache")
}

func TestIntentErrorMapping(t *testing.T) {
	h, _ := newTestHandler(t)
	h.Svc.Backend = &stubPreparer{err: &upstream.Error{Kind: upstream.KindUnauthorized}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{"amount":11000,"productId":"bean-100"}`))
	router(h).ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	h.Svc.Backend = &stubPreparer{err: &upstream.Error{Kind: upstream.KindTransport, Message: "dial timeout"}}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/topup/intent", strings.NewReader(`{"amount":11000,"productId":"bean-100"}`))
	router(h).ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadGateway, rr.Code)
}
