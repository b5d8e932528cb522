package jsonval

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	"id": "resp_1",
	"usage": {"input_tokens": 12, "output_tokens": 3.5},
	"done": true,
	"tags": ["a", "b"],
	"meta": null
}`

func decode(t *testing.T, raw string) Value {
	t.Helper()
	v, err := Decode([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{broken`))
	assert.Error(t, err)
}

func TestGetDescends(t *testing.T) {
	v := decode(t, sample)

	n, err := v.Get("usage", "input_tokens")
	require.NoError(t, err)
	tokens, err := n.Int()
	require.NoError(t, err)
	assert.Equal(t, 12, tokens)
}

func TestGetReportsPath(t *testing.T) {
	v := decode(t, sample)

	_, err := v.Get("usage", "cache_tokens")
	var serr *ShapeError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "usage.cache_tokens", serr.Path)
	assert.Equal(t, "missing", serr.Got)

	_, err = v.Get("id", "deeper")
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "object", serr.Want)
	assert.Equal(t, "string", serr.Got)
}

func TestLookup(t *testing.T) {
	v := decode(t, sample)

	id, ok := v.Lookup("id")
	require.True(t, ok)
	assert.Equal(t, "resp_1", id.StringOr(""))

	_, ok = v.Lookup("missing", "key")
	assert.False(t, ok)
}

func TestScalarAccessors(t *testing.T) {
	v := decode(t, sample)

	done, _ := v.Lookup("done")
	b, err := done.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	out, _ := v.Lookup("usage", "output_tokens")
	f, err := out.Float()
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)

	_, err = out.Int()
	var serr *ShapeError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "integer", serr.Want)

	meta, _ := v.Lookup("meta")
	assert.True(t, meta.IsNull())
	assert.Equal(t, "fallback", meta.StringOr("fallback"))
}

func TestArrayAndMap(t *testing.T) {
	v := decode(t, sample)

	tags, _ := v.Lookup("tags")
	items, err := tags.Array()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[1].StringOr(""))

	usage, _ := v.Lookup("usage")
	fields, err := usage.Map()
	require.NoError(t, err)
	assert.Len(t, fields, 2)

	_, err = tags.Map()
	assert.Error(t, err)
}

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	_, err := v.Get("anything")
	assert.Error(t, err)
}

func TestOfUnwrapsValue(t *testing.T) {
	inner := Of(map[string]any{"k": "v"})
	outer := Of(inner)
	got, ok := outer.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "v", got.StringOr(""))
}

func TestMarshalRoundTrip(t *testing.T) {
	v := decode(t, `{"a":[1,2],"b":"x"}`)
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	b, ok := back.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "x", b.StringOr(""))
}
