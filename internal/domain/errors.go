package domain

import "errors"

var (
	// ErrSourceUnavailable means a source could not be reached or timed out.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedRow means an adapter row lacks a required field.
	ErrMalformedRow = errors.New("malformed row")
	// ErrIdentityConflict means an identity already existed on create.
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrPersistence means a transaction-level storage failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrPriceSourceUnavailable means the price cycle could not fetch prices.
	ErrPriceSourceUnavailable = errors.New("price source unavailable")
	// ErrPassInProgress means another pass for the same source holds the lease.
	ErrPassInProgress = errors.New("pass already in progress")
	// ErrNotFound means a looked-up entity does not exist or is inactive.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery means a read request has out-of-range parameters.
	ErrInvalidQuery = errors.New("invalid query")
)
