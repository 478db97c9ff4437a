package model

import (
	"encoding/json"
	"fmt"
)

// MultiPv is the number of principal variations requested. Supported range
// is 1 to 5.
type MultiPv int

// ErrInvalidMultiPv is returned when a multiPv value is out of range.
var ErrInvalidMultiPv = fmt.Errorf("multiPv: supported range is 1 to 5")

// Valid reports whether the value is in the supported range.
func (m MultiPv) Valid() bool { return m >= 1 && m <= 5 }

// UnmarshalJSON rejects out-of-range values at decode time. Zero (absent) is
// allowed and later defaulted to 1.
func (m *MultiPv) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n != 0 && (n < 1 || n > 5) {
		return ErrInvalidMultiPv
	}
	*m = MultiPv(n)
	return nil
}
