package snapshot

import "fmt"

// APIError mirrors Binance's error envelope, grounded on the teacher's
// binance.APIError.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: code=%d, msg=%s", e.Code, e.Message)
}
