package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidParams     = errors.New("invalid parameters")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrEmptyTemplate     = errors.New("template has no rows")
	ErrAlreadyClaimed    = errors.New("job already claimed by worker")
	ErrAlreadyTerminal   = errors.New("job already terminal")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrRunDrained        = errors.New("run already drained")
	ErrShuttingDown      = errors.New("shutting down")
)
