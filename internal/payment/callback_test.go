package payment

import (
	"net/url"
	"testing"
)

func TestParseTopupSuccess(t *testing.T) {
	q := url.Values{}
	q.Set("paymentKey", "pk_1")
	q.Set("orderId", "ord_1")
	q.Set("amount", "11000")

	cb := ParseTopupSuccess(q)
	if cb.Malformed() {
		t.Fatalf("unexpected malformed: missing %v", cb.Missing())
	}
	if cb.PaymentKey != "pk_1" || cb.OrderID != "ord_1" || cb.Amount != 11000 {
		t.Fatalf("unexpected callback %+v", cb)
	}
}

func TestParseTopupSuccessMissingAmount(t *testing.T) {
	q := url.Values{}
	q.Set("paymentKey", "pk_1")
	q.Set("orderId", "ord_1")

	cb := ParseTopupSuccess(q)
	if !cb.Malformed() {
		t.Fatal("expected malformed callback")
	}
	if got := cb.Missing(); len(got) != 1 || got[0] != "amount" {
		t.Fatalf("unexpected missing list %v", got)
	}
}

func TestParseTopupSuccessRejectsBadAmount(t *testing.T) {
	for _, raw := range []string{"0", "-100", "12.5", "abc"} {
		q := url.Values{}
		q.Set("paymentKey", "pk_1")
		q.Set("orderId", "ord_1")
		q.Set("amount", raw)
		if cb := ParseTopupSuccess(q); !cb.Malformed() {
			t.Errorf("amount %q: expected malformed", raw)
		}
	}
}

func TestParseBillingSuccess(t *testing.T) {
	q := url.Values{}
	q.Set("authKey", "auth_1")
	q.Set("customerKey", "cust_1")
	q.Set("membershipItemId", "mem_1")

	cb := ParseBillingSuccess(q)
	if cb.Malformed() {
		t.Fatalf("unexpected malformed: missing %v", cb.Missing())
	}
	if cb.AuthKey != "auth_1" || cb.CustomerKey != "cust_1" || cb.MembershipItemID != "mem_1" {
		t.Fatalf("unexpected callback %+v", cb)
	}
}

func TestParseBillingSuccessMissingParams(t *testing.T) {
	cb := ParseBillingSuccess(url.Values{})
	if !cb.Malformed() {
		t.Fatal("expected malformed callback")
	}
	if len(cb.Missing()) != 3 {
		t.Fatalf("unexpected missing list %v", cb.Missing())
	}
}

func TestParseFail(t *testing.T) {
	q := url.Values{}
	q.Set("code", "PAY_PROCESS_CANCELED")
	q.Set("message", "사용자 취소")
	q.Set("orderId", "ord_1")

	cb := ParseFail(PurposeTopup, q)
	if !cb.Failed {
		t.Fatal("expected failed callback")
	}
	if cb.FailCode != CodeProcessCanceled || cb.FailMessage != "사용자 취소" {
		t.Fatalf("unexpected callback %+v", cb)
	}
	if cb.Malformed() {
		t.Fatal("failure callbacks are never malformed")
	}
}

func TestFingerprintDistinguishesVariants(t *testing.T) {
	topup := Callback{Purpose: PurposeTopup, OrderID: "ord_1", PaymentKey: "pk_1", Amount: 11000}
	billing := Callback{Purpose: PurposeMembership, CustomerKey: "cust_1", AuthKey: "auth_1", MembershipItemID: "mem_1"}
	if topup.Fingerprint() == billing.Fingerprint() {
		t.Fatal("fingerprints must differ per variant")
	}
	same := Callback{Purpose: PurposeTopup, OrderID: "ord_1", PaymentKey: "pk_1", Amount: 11000}
	if topup.Fingerprint() != same.Fingerprint() {
		t.Fatal("identical callbacks must share a fingerprint")
	}
}
