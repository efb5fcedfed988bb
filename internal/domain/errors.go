package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProductQuantity = errors.New("product quantity out of range")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrCheckoutFailure        = errors.New("payment gateway did not open a session")
	ErrGatewayIncompatibility = errors.New("gateway event failed verification")
	ErrEventNotProcessed      = errors.New("gateway event could not be processed")
	ErrUserNotFound           = errors.New("user not found")
	ErrPurchaseIntentNotFound = errors.New("purchase intent not found")
	ErrIntentOwnerMismatch    = errors.New("gateway event user does not own the purchase intent")
	ErrEmailInUse             = errors.New("email already in use")
	ErrInvalidCredentials     = errors.New("invalid email or password")
)

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

type ProductNotAvailableError struct {
	ProductID string
}

func (e *ProductNotAvailableError) Error() string {
	return fmt.Sprintf("product %s is no longer available", e.ProductID)
}

// Recoverable reports whether replaying the payment event that produced err
// can succeed later. Verification failures and data integrity problems are
// final; unmapped events and infrastructure faults are not.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrGatewayIncompatibility),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrPurchaseIntentNotFound),
		errors.Is(err, ErrIntentOwnerMismatch):
		return false
	}
	return true
}
