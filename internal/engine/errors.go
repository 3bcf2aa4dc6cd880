package engine

import (
	"errors"
	"fmt"

	"github.com/slipway-sh/slipway/internal/repository"
)

// Failure classes surfaced by engine operations. Callers branch on
// these with errors.Is; the HTTP layer maps them to status codes.
var (
	ErrUnauthorized     = errors.New("engine: unauthorized")
	ErrForbidden        = errors.New("engine: forbidden")
	ErrInvalidInput     = errors.New("engine: invalid input")
	ErrDispatchFailed   = errors.New("engine: build dispatch failed")
	ErrProbeUnavailable = errors.New("engine: platform probe unavailable")
	ErrStoreUnavailable = errors.New("engine: record store unavailable")
)

// ErrNotFound re-exports the store's not-found class so callers need
// only one import.
var ErrNotFound = repository.ErrNotFound

// storeErr classifies a record store failure. Not-found passes
// through; anything else means the store is unreachable and the
// operation aborts with the record in its last durable state.
func storeErr(err error) error {
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
