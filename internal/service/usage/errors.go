package usage

import "errors"

var (
	ErrQuotaExceeded     = errors.New("user quota exceeded")
	ErrProtectedProperty = errors.New("only an administrator can change usage or quota")
	ErrInvalidQuota      = errors.New("quota must be -1 or a non-negative byte count")
	ErrTrackingDisabled  = errors.New("usage tracking is disabled")
)
