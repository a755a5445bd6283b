package redis

import (
	"fmt"

	"otp-dispatch-service/internal/model"
)

// int64Results validates a Lua script reply: a flat array of exactly want
// integers. Anything else is treated as a store fault, never a panic.
func int64Results(reply interface{}, want int) ([]int64, error) {
	slice, ok := reply.([]interface{})
	if !ok || len(slice) != want {
		return nil, fmt.Errorf("%w: unexpected script reply", model.ErrStoreUnavailable)
	}
	out := make([]int64, want)
	for i, v := range slice {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected script reply", model.ErrStoreUnavailable)
		}
		out[i] = n
	}
	return out, nil
}
