package models

import "fmt"

// Kind classifies a ledger error independently of any transport.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindUnauthorized
	KindNotFound
	KindStateConflict
	KindInsufficientResource
	KindComplianceFailure
	KindSystemPaused
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindInsufficientResource:
		return "insufficient_resource"
	case KindComplianceFailure:
		return "compliance_failure"
	case KindSystemPaused:
		return "system_paused"
	default:
		return "unknown"
	}
}

// Error is the single error type raised by ledger operations.
// Code is a stable identifier (e.g. ASSET_LOCKED) the API layer can map.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	code := e.Code
	if code == "" {
		code = e.Kind.String()
	}
	if e.Msg == "" {
		return code
	}
	return code + ": " + e.Msg
}

// Is matches on Kind, and on Code too when the target carries one, so
// errors.Is(err, ErrInsufficientResource) and errors.Is(err, ErrInsufficientLiquidity)
// both work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrStateConflict        = &Error{Kind: KindStateConflict}
	ErrInsufficientResource = &Error{Kind: KindInsufficientResource}
	ErrComplianceFailure    = &Error{Kind: KindComplianceFailure}
	ErrSystemPaused         = &Error{Kind: KindSystemPaused, Code: "SYSTEM_PAUSED"}
)

// Code sentinels.
var (
	ErrInvalidAmount      = &Error{Kind: KindInvalidInput, Code: "INVALID_AMOUNT"}
	ErrInvalidMetadata    = &Error{Kind: KindInvalidInput, Code: "INVALID_METADATA"}
	ErrInvalidTerm        = &Error{Kind: KindInvalidInput, Code: "INVALID_TERM"}
	ErrInvalidCollateral  = &Error{Kind: KindInvalidInput, Code: "INVALID_COLLATERAL"}
	ErrAssetValueTooLow   = &Error{Kind: KindInvalidInput, Code: "ASSET_VALUE_TOO_LOW"}
	ErrNotAuthorized      = &Error{Kind: KindUnauthorized, Code: "UNAUTHORIZED"}
	ErrNotOwner           = &Error{Kind: KindUnauthorized, Code: "NOT_OWNER"}
	ErrTokenNotFound      = &Error{Kind: KindNotFound, Code: "TOKEN_NOT_FOUND"}
	ErrPoolTokenNotFound  = &Error{Kind: KindNotFound, Code: "POOL_TOKEN_NOT_FOUND"}
	ErrLoanNotFound       = &Error{Kind: KindNotFound, Code: "LOAN_NOT_FOUND"}
	ErrApplicationMissing = &Error{Kind: KindNotFound, Code: "APPLICATION_NOT_FOUND"}
	ErrLiquidationMissing = &Error{Kind: KindNotFound, Code: "LIQUIDATION_NOT_FOUND"}
	ErrAssetNotVerified   = &Error{Kind: KindStateConflict, Code: "ASSET_NOT_VERIFIED"}
	ErrAssetLocked        = &Error{Kind: KindStateConflict, Code: "ASSET_LOCKED"}
	ErrAssetNotLocked     = &Error{Kind: KindStateConflict, Code: "ASSET_NOT_LOCKED"}
	ErrLoanNotActive      = &Error{Kind: KindStateConflict, Code: "LOAN_NOT_ACTIVE"}
	ErrApplicationClosed  = &Error{Kind: KindStateConflict, Code: "APPLICATION_NOT_OPEN"}
	ErrAssessmentMissing  = &Error{Kind: KindStateConflict, Code: "RISK_ASSESSMENT_REQUIRED"}
	ErrAssessmentRejected = &Error{Kind: KindStateConflict, Code: "RISK_ASSESSMENT_REJECTED"}
	ErrAlreadyProcessed   = &Error{Kind: KindStateConflict, Code: "LIQUIDATION_ALREADY_PROCESSED"}
	// Pool ledger's inline liquidate path.
	ErrLiquidationNotWarranted = &Error{Kind: KindStateConflict, Code: "LIQUIDATION_NOT_WARRANTED"}
	// Liquidation engine's initiate path.
	ErrLoanNotLiquidatable    = &Error{Kind: KindStateConflict, Code: "LOAN_DOES_NOT_MEET_LIQUIDATION_CRITERIA"}
	ErrInsufficientCollateral = &Error{Kind: KindInsufficientResource, Code: "INSUFFICIENT_COLLATERAL"}
	ErrInsufficientLiquidity  = &Error{Kind: KindInsufficientResource, Code: "INSUFFICIENT_LIQUIDITY"}
	ErrComplianceCheckFailed  = &Error{Kind: KindComplianceFailure, Code: "COMPLIANCE_CHECK_FAILED"}
)

// Errorf derives a new error from a sentinel with a formatted message.
func Errorf(base *Error, format string, args ...interface{}) error {
	return &Error{Kind: base.Kind, Code: base.Code, Msg: fmt.Sprintf(format, args...)}
}
