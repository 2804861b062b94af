package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login failures
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account locked")
	ErrSubscriptionInactive = errors.New("subscription inactive or expired")
	ErrDeviceIDRequired     = errors.New("device_id required for this account")
	ErrDeviceConflict       = errors.New("account is already active on another device")

	// Work-order lifecycle failures
	ErrInvalidState     = errors.New("invalid state for operation")
	ErrAlreadyCompleted = errors.New("work order already completed")

	// Evidence submission failures
	ErrInvalidFileType = errors.New("invalid file type")
	ErrValidation      = errors.New("validation failed")
)
