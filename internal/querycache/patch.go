package querycache

import (
	"encoding/json"
	"fmt"

	"koi-auction/internal/domain"
)

// Patch is an optimistic rewrite of one cached value.
type Patch struct {
	Key   domain.QueryKey
	Apply func(data []byte) ([]byte, error)
}

func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return v, nil
}

func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cached value: %w", err)
	}
	return data, nil
}

// PatchJSON decodes the cached value as T, applies fn and re-encodes the result.
func PatchJSON[T any](key domain.QueryKey, fn func(T) T) Patch {
	return Patch{
		Key: key,
		Apply: func(data []byte) ([]byte, error) {
			v, err := Decode[T](data)
			if err != nil {
				return nil, err
			}
			return Encode(fn(v))
		},
	}
}
