package generic

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON loads key and decodes it into v, returning the stored version.
func GetJSON(ctx context.Context, kv KV, key string, v any) (int64, error) {
	rec, err := kv.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(rec.Value, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec.Version, nil
}

// PutJSON encodes v and writes it with compare-and-swap on expected.
func PutJSON(ctx context.Context, kv KV, key string, v any, expected int64) (int64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	rec, err := kv.CompareAndSwap(ctx, key, raw, expected)
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// SetJSON encodes v and writes it unconditionally.
func SetJSON(ctx context.Context, kv KV, key string, v any) (int64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	rec, err := kv.Set(ctx, key, raw)
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// ListJSON decodes every record under prefix with decode.
func ListJSON[T any](ctx context.Context, kv KV, prefix string) ([]T, error) {
	recs, err := kv.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
