package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// Cache keeps the last result of each query. Refetched results are merged
// into the cached value: objects merge field by field, lists are replaced
// wholesale so reordered server results never duplicate entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// NewCache builds an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]json.RawMessage)}
}

// Key identifies op's cache entry. Variables are encoded with sorted keys.
func Key(op Operation) string {
	vars, err := json.Marshal(op.Variables)
	if err != nil {
		return op.Name
	}
	return op.Name + ":" + string(vars)
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.entries[key]
	return data, ok
}

// Put merges data into the entry for key and returns the stored value.
func (c *Cache) Put(key string, data json.RawMessage) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[key]
	if !ok {
		c.entries[key] = data
		return data
	}

	oldVal, oldErr := decodeValue(prev)
	newVal, newErr := decodeValue(data)
	if oldErr != nil || newErr != nil {
		c.entries[key] = data
		return data
	}
	merged, err := json.Marshal(mergeValues(oldVal, newVal))
	if err != nil {
		c.entries[key] = data
		return data
	}
	c.entries[key] = merged
	return merged
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]json.RawMessage)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// decodeValue keeps numbers as json.Number so integers wider than a float64
// mantissa survive a merge unchanged.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func mergeValues(oldVal, newVal any) any {
	oldObj, oldIsObj := oldVal.(map[string]any)
	newObj, newIsObj := newVal.(map[string]any)
	if !oldIsObj || !newIsObj {
		return newVal
	}
	out := make(map[string]any, len(oldObj)+len(newObj))
	for k, v := range oldObj {
		out[k] = v
	}
	for k, v := range newObj {
		out[k] = mergeValues(oldObj[k], v)
	}
	return out
}
