// Package service implements the engine's operations on top of the store:
// the ledger, wagers, settlement, badge awarding and content review.
package service

import (
	"errors"

	"credit-engine/internal/apperr"
	"credit-engine/internal/pkg/lock"
	"credit-engine/internal/repository"
)

// classify maps store and lock errors onto the public error kinds. The
// original error stays in the chain so errors.Is works against either.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrMatchNotFound),
		errors.Is(err, repository.ErrPredictionNotFound),
		errors.Is(err, repository.ErrTransactionNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case errors.Is(err, repository.ErrInsufficientBalance):
		return apperr.Wrap(apperr.KindInsufficientBalance, op, err)
	case errors.Is(err, repository.ErrDuplicatePending):
		return apperr.Wrap(apperr.KindDuplicateWager, op, err)
	case errors.Is(err, repository.ErrMatchFinalized):
		return apperr.Wrap(apperr.KindValidation, op, err)
	case errors.Is(err, repository.ErrAlreadyResolved),
		errors.Is(err, lock.ErrLockTimeout),
		errors.Is(err, lock.ErrLockLost):
		return apperr.Wrap(apperr.KindConcurrencyConflict, op, err)
	default:
		return apperr.Persistence(op, err)
	}
}

// pageBounds validates 1-based paging input and returns the row offset.
func pageBounds(op string, page, limit int) (int, error) {
	if page < 1 {
		return 0, apperr.Validation(op, "page must be >= 1, got %d", page)
	}
	if limit < 1 || limit > maxPageSize {
		return 0, apperr.Validation(op, "limit must be between 1 and %d, got %d", maxPageSize, limit)
	}
	return (page - 1) * limit, nil
}

const maxPageSize = 100
