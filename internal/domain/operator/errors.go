package operator

import "errors"

var (
	ErrPendingOperatorNotFound = errors.New("pending operator not found")
	ErrAlreadyCreated          = errors.New("operator already created for this payment")
)
