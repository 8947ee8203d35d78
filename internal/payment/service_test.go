package payment

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/upstream"
)

type stubPreparer struct {
	payment upstream.PreparedPayment
	billing upstream.PreparedBilling
	err     error
}

func (s *stubPreparer) PreparePayment(context.Context, int64, string) (upstream.PreparedPayment, error) {
	return s.payment, s.err
}

func (s *stubPreparer) PrepareBilling(context.Context, string) (upstream.PreparedBilling, error) {
	return s.billing, s.err
}

type recordingJournal struct {
	mu      sync.Mutex
	records []string
}

func (r *recordingJournal) Record(_ context.Context, orderID, purpose string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, orderID+":"+purpose)
	_ = amount
	return nil
}

func (r *recordingJournal) Finish(context.Context, string, string, string) error { return nil }

type recordingScheduler struct {
	mu     sync.Mutex
	orders []string
	delays []time.Duration
}

func (r *recordingScheduler) ScheduleExpiry(_ context.Context, orderID string, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, orderID)
	r.delays = append(r.delays, delay)
	return nil
}

func newTestService(backend *stubPreparer, journal *recordingJournal, expiry *recordingScheduler) *Service {
	return &Service{
		Backend:   backend,
		Journal:   journal,
		Expiry:    expiry,
		Validate:  validator.New(),
		Logger:    zerolog.Nop(),
		ClientKey: "ck_test",
		BaseURL:   "https://pay.bean.example",
		IntentTTL: 30 * time.Minute,
	}
}

func TestCreateTopupIntent(t *testing.T) {
	backend := &stubPreparer{payment: upstream.PreparedPayment{
		OrderID:     "ord_1",
		CustomerKey: "cust_1",
		Amount:      11000,
		OrderName:   "BEAN 100개",
	}}
	journal := &recordingJournal{}
	expiry := &recordingScheduler{}
	svc := newTestService(backend, journal, expiry)

	intent, err := svc.CreateTopupIntent(context.Background(), TopupRequest{Amount: 11000, ProductID: "bean-100"})
	require.NoError(t, err)

	require.Equal(t, PurposeTopup, intent.Purpose)
	require.Equal(t, "ord_1", intent.OrderID)
	require.Equal(t, "ck_test", intent.ClientKey)
	require.Equal(t, int64(11000), intent.Amount)
	require.Equal(t, "https://pay.bean.example/payments/success", intent.SuccessURL)
	require.Equal(t, "https://pay.bean.example/payments/fail", intent.FailURL)
	require.NotEmpty(t, intent.RequestID)

	require.Equal(t, []string{"ord_1:balance-topup"}, journal.records)
	require.Equal(t, []string{"ord_1"}, expiry.orders)
	require.Equal(t, 30*time.Minute, expiry.delays[0])
}

func TestCreateTopupIntentValidation(t *testing.T) {
	svc := newTestService(&stubPreparer{}, &recordingJournal{}, &recordingScheduler{})

	_, err := svc.CreateTopupIntent(context.Background(), TopupRequest{Amount: 0, ProductID: "bean-100"})
	require.Error(t, err)
	var vErrs validator.ValidationErrors
	require.ErrorAs(t, err, &vErrs)

	_, err = svc.CreateTopupIntent(context.Background(), TopupRequest{Amount: 11000})
	require.Error(t, err)
}

func TestCreateMembershipIntent(t *testing.T) {
	backend := &stubPreparer{billing: upstream.PreparedBilling{
		CustomerKey:      "cust_1",
		MembershipItemID: "mem_1",
		ItemName:         "골드 멤버십",
		Amount:           9900,
	}}
	svc := newTestService(backend, &recordingJournal{}, &recordingScheduler{})

	intent, err := svc.CreateMembershipIntent(context.Background(), "mem_1")
	require.NoError(t, err)
	require.Equal(t, PurposeMembership, intent.Purpose)
	require.Equal(t, "골드 멤버십", intent.ItemName)

	// Redirect URLs carry enough state to reconstruct the intent from the
	// callback alone.
	succ, err := url.Parse(intent.SuccessURL)
	require.NoError(t, err)
	require.Equal(t, "/billing/success", succ.Path)
	require.Equal(t, "mem_1", succ.Query().Get("membershipItemId"))
	require.Equal(t, "cust_1", succ.Query().Get("customerKey"))

	fail, err := url.Parse(intent.FailURL)
	require.NoError(t, err)
	require.Equal(t, "/billing/fail", fail.Path)
	require.Equal(t, "mem_1", fail.Query().Get("membershipItemId"))
}

func TestCreateMembershipIntentRequiresItem(t *testing.T) {
	backend := &stubPreparer{}
	svc := newTestService(backend, &recordingJournal{}, &recordingScheduler{})

	for _, item := range []string{"", "   "} {
		_, err := svc.CreateMembershipIntent(context.Background(), item)
		require.Error(t, err)

		var ae *common.AppError
		require.ErrorAs(t, err, &ae)
		require.Equal(t, http.StatusBadRequest, ae.HTTPStatus)
		require.Equal(t, "멤버십 정보가 올바르지 않습니다.", ae.Message)
	}
}

func TestCreateIntentPropagatesBackendError(t *testing.T) {
	backend := &stubPreparer{err: &upstream.Error{Kind: upstream.KindBusiness, Message: "판매 중단된 상품입니다."}}
	journal := &recordingJournal{}
	svc := newTestService(backend, journal, &recordingScheduler{})

	_, err := svc.CreateTopupIntent(context.Background(), TopupRequest{Amount: 11000, ProductID: "bean-100"})
	require.Error(t, err)
	require.Empty(t, journal.records, "failed prepares are not journalled")
}
