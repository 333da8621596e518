package book

import (
	"errors"

	"bourse/internal/types"
)

var (
	// ErrUnknownOrder is returned by Cancel/Modify against an order id that
	// is not currently resting in the book.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrNotEnoughLiquidity is reported by Depth.Match for a market order
	// that swept every resting level on its side and still got zero fill.
	ErrNotEnoughLiquidity = errors.New("not enough liquidity")
)

// Failure pairs a resting order id with an error Match could not return
// inline through the fills slice.
type Failure struct {
	OrderId types.OrderId
	Err     error
}
