package credits

import "errors"

var (
	// ErrInsufficientCredits indicates the account balance cannot cover the
	// requested deduction.
	ErrInsufficientCredits = errors.New("insufficient credits")
)
