package domain

import "errors"

var (
	ErrBadSignature        = errors.New("webhook_signature_invalid")
	ErrDuplicateEvent      = errors.New("event_already_processed")
	ErrTransientProvider   = errors.New("provider_unavailable")
	ErrPermanentProvider   = errors.New("provider_reported_failure")
	ErrInvalidTransition   = errors.New("stale_or_invalid_transition")
	ErrUnknownEntity       = errors.New("entity_not_found")
	ErrInvalidTrackingCode = errors.New("invalid_tracking_code")
	ErrNoBids              = errors.New("no_bids")
)
