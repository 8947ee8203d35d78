package payment

import (
	"net/url"
	"strconv"
	"strings"
)

// Purpose distinguishes the two transaction variants.
type Purpose string

const (
	// PurposeTopup is a one-time balance charge.
	PurposeTopup Purpose = "balance-topup"
	// PurposeMembership registers a reusable billing authorization for a
	// recurring membership subscription.
	PurposeMembership Purpose = "membership-subscription"
)

// Callback carries the query parameters the hosted payment widget appends to
// the redirect URL. It is read-only input to the confirmation flow and is
// never persisted beyond the handling request.
type Callback struct {
	Purpose Purpose

	// Success-redirect parameters. PaymentKey is set for top-ups, AuthKey for
	// billing-auth subscriptions.
	PaymentKey       string
	AuthKey          string
	OrderID          string
	CustomerKey      string
	Amount           int64
	MembershipItemID string

	// Failure-redirect parameters.
	Failed      bool
	FailCode    Code
	FailMessage string

	missing []string
}

// Missing lists the required parameters absent from the callback.
func (cb Callback) Missing() []string {
	return cb.missing
}

// Malformed reports whether required parameters are missing; the flow must
// reach the malformed terminal state without any backend call.
func (cb Callback) Malformed() bool {
	return len(cb.missing) > 0
}

// Fingerprint identifies this callback for cross-request deduplication.
func (cb Callback) Fingerprint() string {
	if cb.Purpose == PurposeMembership {
		return strings.Join([]string{string(cb.Purpose), cb.CustomerKey, cb.AuthKey, cb.MembershipItemID}, "|")
	}
	return strings.Join([]string{string(cb.Purpose), cb.OrderID, cb.PaymentKey, strconv.FormatInt(cb.Amount, 10)}, "|")
}

// ParseTopupSuccess extracts a top-up success callback. Required: paymentKey,
// orderId, amount (positive integer).
func ParseTopupSuccess(q url.Values) Callback {
	cb := Callback{Purpose: PurposeTopup}
	cb.PaymentKey = strings.TrimSpace(q.Get("paymentKey"))
	cb.OrderID = strings.TrimSpace(q.Get("orderId"))
	if cb.PaymentKey == "" {
		cb.missing = append(cb.missing, "paymentKey")
	}
	if cb.OrderID == "" {
		cb.missing = append(cb.missing, "orderId")
	}
	rawAmount := strings.TrimSpace(q.Get("amount"))
	if rawAmount == "" {
		cb.missing = append(cb.missing, "amount")
	} else {
		amount, err := strconv.ParseInt(rawAmount, 10, 64)
		if err != nil || amount <= 0 {
			cb.missing = append(cb.missing, "amount")
		} else {
			cb.Amount = amount
		}
	}
	return cb
}

// ParseBillingSuccess extracts a subscription success callback. Required:
// authKey, customerKey, membershipItemId.
func ParseBillingSuccess(q url.Values) Callback {
	cb := Callback{Purpose: PurposeMembership}
	cb.AuthKey = strings.TrimSpace(q.Get("authKey"))
	cb.CustomerKey = strings.TrimSpace(q.Get("customerKey"))
	cb.MembershipItemID = strings.TrimSpace(q.Get("membershipItemId"))
	if cb.AuthKey == "" {
		cb.missing = append(cb.missing, "authKey")
	}
	if cb.CustomerKey == "" {
		cb.missing = append(cb.missing, "customerKey")
	}
	if cb.MembershipItemID == "" {
		cb.missing = append(cb.missing, "membershipItemId")
	}
	return cb
}

// ParseFail extracts a failure callback for either variant. The provider
// appends code and message; both may be absent, in which case the generic
// failure text applies.
func ParseFail(purpose Purpose, q url.Values) Callback {
	return Callback{
		Purpose:          purpose,
		Failed:           true,
		FailCode:         Code(strings.TrimSpace(q.Get("code"))),
		FailMessage:      strings.TrimSpace(q.Get("message")),
		OrderID:          strings.TrimSpace(q.Get("orderId")),
		MembershipItemID: strings.TrimSpace(q.Get("membershipItemId")),
	}
}
