package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrEmptyList       = errors.New("nothing to run")
	ErrAlreadyFinished = errors.New("run already finished")
	ErrDuplicateName   = errors.New("name already exists")
	ErrIntegrity       = errors.New("integrity violation")
	ErrScopeMismatch   = errors.New("items belong to different scopes")
	ErrInvalidArgument = errors.New("invalid argument")
)
