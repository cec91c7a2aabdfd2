package domain

import "errors"

var (
	ErrTrialAlreadyUsed   = errors.New("trial_already_used")
	ErrSubscriptionActive = errors.New("subscription_already_active")
	ErrInvalidOrgID       = errors.New("invalid_org_id")
	ErrMissingSession     = errors.New("missing_checkout_session")
)
