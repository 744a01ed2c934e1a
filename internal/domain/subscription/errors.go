package subscription

import "errors"

var (
	ErrSeatChangeNotFound   = errors.New("seat change not found")
	ErrNoLinkedSubscription = errors.New("manager has no linked subscription")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
)
