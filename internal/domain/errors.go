package domain

import "errors"

// Scoring engine failures. All of them are caller errors: the engine
// rejects the call instead of coercing the input.
var (
	ErrInvalidEntityType  = errors.New("invalid entity type")
	ErrDegenerateCategory = errors.New("category has zero total weight")
	ErrScoreOutOfRange    = errors.New("score out of range [0,5]")
	ErrUnknownFactor      = errors.New("unknown risk factor")
	ErrMissingFactor      = errors.New("missing risk factor")
)

// Service failures
var (
	ErrSnapshotNotFound = errors.New("risk score not found")
	ErrReasonRequired   = errors.New("override reason is required")
	ErrOverrideEmpty    = errors.New("override needs risk_score or risk_factors")
	ErrEmployerRequired = errors.New("employer_id is required")
	ErrInvalidAmount    = errors.New("advance amount must be positive")
)

// IsInputError reports whether err was caused by invalid scoring input
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidEntityType) ||
		errors.Is(err, ErrScoreOutOfRange) ||
		errors.Is(err, ErrUnknownFactor) ||
		errors.Is(err, ErrMissingFactor) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrOverrideEmpty) ||
		errors.Is(err, ErrEmployerRequired) ||
		errors.Is(err, ErrInvalidAmount)
}
