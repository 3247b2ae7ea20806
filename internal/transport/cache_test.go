package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheMergeReplacesLists(t *testing.T) {
	c := NewCache()
	c.Put("k", json.RawMessage(`{"bins":[{"id":"a"},{"id":"b"}],"meta":{"page":1,"total":2}}`))

	merged := c.Put("k", json.RawMessage(`{"bins":[{"id":"b"}],"meta":{"total":1}}`))

	assert.JSONEq(t, `{"bins":[{"id":"b"}],"meta":{"page":1,"total":1}}`, string(merged))
	stored, ok := c.Get("k")
	assert.True(t, ok)
	assert.JSONEq(t, string(merged), string(stored))
}

func TestCacheNonObjectValuesReplace(t *testing.T) {
	c := NewCache()
	c.Put("k", json.RawMessage(`[1,2,3]`))
	assert.JSONEq(t, `[3]`, string(c.Put("k", json.RawMessage(`[3]`))))
	assert.JSONEq(t, `"x"`, string(c.Put("k", json.RawMessage(`"x"`))))
}

func TestCacheKeyIncludesVariables(t *testing.T) {
	a := Key(Operation{Name: "Bin", Variables: map[string]any{"id": "1", "zone": "n"}})
	b := Key(Operation{Name: "Bin", Variables: map[string]any{"zone": "n", "id": "1"}})
	c := Key(Operation{Name: "Bin", Variables: map[string]any{"id": "2"}})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCacheClear(t *testing.T) {
	c := NewCache()
	c.Put("a", json.RawMessage(`{}`))
	c.Put("b", json.RawMessage(`{}`))
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheMergeKeepsWideIntegers(t *testing.T) {
	c := NewCache()
	c.Put("k", json.RawMessage(`{"bin":{"id":9007199254740993,"fill":12.5}}`))

	merged := c.Put("k", json.RawMessage(`{"bin":{"fill":40},"seq":18446744073709551615}`))

	assert.Contains(t, string(merged), `"id":9007199254740993`)
	assert.Contains(t, string(merged), `"seq":18446744073709551615`)
	assert.Contains(t, string(merged), `"fill":40`)
}
