package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrOrderNotEditable    = errors.New("order can no longer be edited")
	ErrOrderNotRecoverable = errors.New("order is not in a recoverable status")
	ErrRecoveryExhausted   = errors.New("payment recovery attempts exhausted, contact support")
	ErrWebhookRejected     = errors.New("webhook rejected")
)
