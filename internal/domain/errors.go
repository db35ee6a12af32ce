package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures shared by the navigation,
// offline and restoration layers.
// -----------------------------------------------------------------------------

// Navigation errors
var (
	ErrUnsupportedNavigation = errors.New("unsupported navigation")
	ErrNavigationForbidden   = errors.New("navigation forbidden in linear test part")
	ErrInvalidPosition       = errors.New("invalid position")
	ErrEndOfTest             = errors.New("end of test")
	ErrMoveInProgress        = errors.New("another move is in progress for this execution")
	ErrNoPendingMove         = errors.New("no pending move to confirm")
)

// Offline navigation errors
var (
	ErrIllegalNavigation = errors.New("illegal offline navigation")
	ErrStaleJumpTable    = errors.New("offline jump table is stale")
)

// Restoration errors
var (
	ErrRestorationImpossible = errors.New("restoration impossible")
	ErrBackupNotFound        = errors.New("backup not found")
)

// Test map errors
var (
	ErrInvalidTestMap  = errors.New("invalid test map")
	ErrTestMapNotFound = errors.New("test map not found")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
