package services

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrSupervisorNotFound = errors.New("Supervisor not found.")
	ErrInvalidTransition  = errors.New("invalid tier transition")
	ErrInvalidSupervisor  = errors.New("supervisor must be an organiser or super admin")
)
