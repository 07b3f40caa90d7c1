package services

import (
	"errors"
	"fmt"

	"github.com/rise-n-smoke/ordering/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates the order was already submitted or paid.
	ErrOrderConflict = errors.New("order: already submitted")
	// ErrPaymentFailed indicates the card was declined.
	ErrPaymentFailed = errors.New("payment: declined")
	// ErrPOSUnavailable indicates Clover rejected or could not process a call.
	ErrPOSUnavailable = errors.New("pos: request failed")

	// ErrCartInvalidInput signals an invalid cart mutation.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the line item is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
)

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
