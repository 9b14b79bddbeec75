package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCS(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestJCSRespectsStructTags(t *testing.T) {
	in := struct {
		Z string `json:"z"`
		A string `json:"a"`
	}{Z: "last", A: "first"}

	out, err := JCS(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"first","z":"last"}`, string(out))
}

func TestCanonicalHashDeterministic(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"x": 1, "y": "two"})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"y": "two", "x": 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Contains(t, h1, "sha256:")
}

func TestCanonicalHashDiffersOnContent(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"amount": 100})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"amount": 101})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
