package services

import (
	"errors"
	"fmt"

	"pricewatch/models"
	"pricewatch/storage"
)

// translate maps storage sentinels onto the models error taxonomy.
// ErrNotFound is left to callers, which know what was being looked up.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrPermissionDenied):
		return &models.PermissionError{Op: op, Err: err}
	case errors.Is(err, storage.ErrUnavailable):
		return &models.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFoundOr(op, kind, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &models.NotFoundError{Kind: kind, ID: id}
	}
	return translate(op, err)
}
