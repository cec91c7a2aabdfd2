package domain

import "errors"

var (
	ErrNotFound      = errors.New("subscription_not_found")
	ErrInvalidStatus = errors.New("invalid_subscription_status")
)
