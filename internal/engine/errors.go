package engine

import (
	"errors"
	"fmt"
)

// ErrRejected is the root of every validation outcome that leaves the
// collection untouched. Rejections are returned synchronously and are also
// announced to the notifier.
var ErrRejected = errors.New("operation rejected")

// Rejections.
var (
	ErrOutOfStock         = fmt.Errorf("%w: product is out of stock", ErrRejected)
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity must be at least 1", ErrRejected)
	ErrQuantityNotTracked = fmt.Errorf("%w: collection does not track quantities", ErrRejected)
)

// Construction errors.
var (
	ErrNoLocalStore  = errors.New("engine requires a local snapshot store")
	ErrNoRemoteStore = errors.New("engine requires a remote collection store")
	ErrInvalidPolicy = errors.New("engine policy needs a valid kind and a FromProduct func")
)
