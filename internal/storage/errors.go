package storage

import "errors"

// ErrUnknownOrder is returned when an order ID has no record in the store.
var ErrUnknownOrder = errors.New("unknown order")
