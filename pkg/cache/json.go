package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SetJSON 以 JSON 字符串写入，保证各后端读回的类型一致
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), expiration)
}

// GetJSON 读取 SetJSON 写入的值；未命中返回 false
func GetJSON(ctx context.Context, c Cache, key string, out interface{}) (bool, error) {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false, nil
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		// redis 后端会把 JSON 字符串再解一层
		b, err := json.Marshal(v)
		if err != nil {
			return false, err
		}
		data = b
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}
	return true, nil
}
