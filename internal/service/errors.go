// Package service implements the game rules on top of the repositories:
// joining, code discovery, special buttons, elimination, and the admin
// phase transitions.
package service

import "errors"

// Business errors. Every one of these is recovered at the handler and
// turned into a user-visible reply; ErrNotAuthorized maps to silence.
var (
	ErrGameNotRunning    = errors.New("game is not running")
	ErrGameInProgress    = errors.New("game already in progress")
	ErrCapacityExceeded  = errors.New("player capacity exceeded")
	ErrInsufficientCodes = errors.New("not enough codes for all players")
	ErrCodeNotFound      = errors.New("code not found or already used")
	ErrButtonBlocked     = errors.New("button is blocked")
	ErrAlreadyDiscovered = errors.New("button already discovered")
	ErrSelfCodeRejected  = errors.New("player submitted their own code")
	ErrAlreadyEliminated = errors.New("player already eliminated")
	ErrDuplicateCode     = errors.New("code already in use")
	ErrPlayerEliminated  = errors.New("player is eliminated")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrSpecialNotHeld    = errors.New("special button is not held by player")
)
