package payment

// Code is a provider-issued failure code attached to the redirect callback or
// returned by the backend confirm endpoint.
type Code string

const (
	// CodeProcessCanceled means the user aborted the payment UI. Informational.
	CodeProcessCanceled Code = "PAY_PROCESS_CANCELED"
	// CodeProcessAborted means the provider flow was interrupted. Informational.
	CodeProcessAborted Code = "PAY_PROCESS_ABORTED"
	// CodeRejectCardCompany means the card issuer declined the charge.
	CodeRejectCardCompany Code = "REJECT_CARD_COMPANY"
	// CodeInvalidCardNumber means the card itself is invalid.
	CodeInvalidCardNumber Code = "INVALID_CARD_NUMBER"
	// CodeNotEnoughBalance means the funding account balance is insufficient.
	CodeNotEnoughBalance Code = "NOT_ENOUGH_BALANCE"
	// CodeExceedDailyLimit means the provider's daily policy limit was hit.
	CodeExceedDailyLimit Code = "EXCEED_MAX_DAILY_PAYMENT_AMOUNT"
	// CodeExceedMonthlyLimit means the provider's monthly policy limit was hit.
	CodeExceedMonthlyLimit Code = "EXCEED_MAX_MONTHLY_PAYMENT_AMOUNT"
	// CodeInvalidAccountInfo means the bank account details were rejected.
	CodeInvalidAccountInfo Code = "INVALID_ACCOUNT_INFO"
	// CodeUnauthorizedKey means the provider rejected our client/secret key.
	CodeUnauthorizedKey Code = "UNAUTHORIZED_KEY"
	// CodeAlreadyProcessed means the transaction was finalised by an earlier
	// callback; the duplicate must not credit the account twice.
	CodeAlreadyProcessed Code = "ALREADY_PROCESSED_PAYMENT"
)

const genericFailureMessage = "결제에 실패했습니다."

// Message maps a provider code to the fixed user-facing Korean message.
// Unrecognised codes fall back to the provider-supplied raw message, or the
// generic failure text when none was supplied.
func (c Code) Message(raw string) string {
	switch c {
	case CodeProcessCanceled:
		return "결제가 취소되었습니다."
	case CodeProcessAborted:
		return "결제가 중단되었습니다."
	case CodeRejectCardCompany:
		return "카드사에서 결제를 거절했습니다."
	case CodeInvalidCardNumber:
		return "유효하지 않은 카드입니다."
	case CodeNotEnoughBalance:
		return "잔액이 부족합니다."
	case CodeExceedDailyLimit:
		return "일일 결제 한도를 초과했습니다."
	case CodeExceedMonthlyLimit:
		return "월간 결제 한도를 초과했습니다."
	case CodeInvalidAccountInfo:
		return "계좌 정보가 올바르지 않습니다."
	case CodeUnauthorizedKey:
		return "결제 인증에 실패했습니다."
	case CodeAlreadyProcessed:
		return "이미 처리된 결제입니다."
	default:
		if raw != "" {
			return raw
		}
		return genericFailureMessage
	}
}

// Informational reports whether the code describes a user-initiated or benign
// interruption rather than an error; the UI renders these without error
// styling.
func (c Code) Informational() bool {
	switch c {
	case CodeProcessCanceled, CodeProcessAborted:
		return true
	default:
		return false
	}
}

// Known reports whether the code is in the fixed lookup table.
func (c Code) Known() bool {
	switch c {
	case CodeProcessCanceled, CodeProcessAborted, CodeRejectCardCompany,
		CodeInvalidCardNumber, CodeNotEnoughBalance, CodeExceedDailyLimit,
		CodeExceedMonthlyLimit, CodeInvalidAccountInfo, CodeUnauthorizedKey,
		CodeAlreadyProcessed:
		return true
	default:
		return false
	}
}
