package usecase

import "errors"

// Sentinel errors for use case layer
var (
	// ErrNotConfigured is returned when an optional dependency was not wired
	ErrNotConfigured = errors.New("not configured")
)

// Context keys for error values
const (
	QueryKey = "query"
	KKey     = "k"
	StageKey = "stage"
)
