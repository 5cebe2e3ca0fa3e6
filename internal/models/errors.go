package loyalty

import "errors"

// Ошибки хранилища
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("concurrent update conflict")
	ErrDuplicateCode = errors.New("duplicate code")
	ErrCodeCollision = errors.New("code collision: generator keeps producing existing codes")
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindPolicy     ErrorKind = "policy"
	KindConflict   ErrorKind = "conflict"
)

type Reason string

const (
	ReasonInvalidCode         Reason = "invalid_code"
	ReasonMissingField        Reason = "missing_field"
	ReasonInvalidPrice        Reason = "invalid_price"
	ReasonMerchantNotFound    Reason = "merchant_not_found"
	ReasonCustomerUnknown     Reason = "customer_unknown"
	ReasonNotEnrolled         Reason = "not_enrolled"
	ReasonRewardNotFound      Reason = "reward_not_found"
	ReasonTenantInactive      Reason = "tenant_inactive"
	ReasonProgramPaused       Reason = "program_paused"
	ReasonAlreadyWashedToday  Reason = "already_washed_today"
	ReasonAlreadyClaimed      Reason = "already_claimed"
	ReasonRewardExpired       Reason = "reward_expired"
	ReasonConcurrencyConflict Reason = "concurrency_conflict"
)

// Error - типизированный результат отказа движка
type Error struct {
	Kind    ErrorKind
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Message
}

// Is сравнивает по коду причины, текст не важен
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// With возвращает копию с уточняющим текстом
func (e *Error) With(msg string) *Error {
	return &Error{Kind: e.Kind, Reason: e.Reason, Message: msg}
}

var (
	ErrInvalidCode         = &Error{Kind: KindValidation, Reason: ReasonInvalidCode}
	ErrMissingField        = &Error{Kind: KindValidation, Reason: ReasonMissingField}
	ErrInvalidPrice        = &Error{Kind: KindValidation, Reason: ReasonInvalidPrice}
	ErrMerchantNotFound    = &Error{Kind: KindNotFound, Reason: ReasonMerchantNotFound}
	ErrCustomerUnknown     = &Error{Kind: KindNotFound, Reason: ReasonCustomerUnknown}
	ErrNotEnrolled         = &Error{Kind: KindNotFound, Reason: ReasonNotEnrolled}
	ErrRewardNotFound      = &Error{Kind: KindNotFound, Reason: ReasonRewardNotFound}
	ErrTenantInactive      = &Error{Kind: KindPolicy, Reason: ReasonTenantInactive}
	ErrProgramPaused       = &Error{Kind: KindPolicy, Reason: ReasonProgramPaused}
	ErrAlreadyWashedToday  = &Error{Kind: KindPolicy, Reason: ReasonAlreadyWashedToday}
	ErrAlreadyClaimed      = &Error{Kind: KindPolicy, Reason: ReasonAlreadyClaimed}
	ErrRewardExpired       = &Error{Kind: KindPolicy, Reason: ReasonRewardExpired}
	ErrConcurrencyConflict = &Error{Kind: KindConflict, Reason: ReasonConcurrencyConflict}
)

// AsEngineError достает типизированную ошибку из цепочки
func AsEngineError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
