package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	type rows struct {
		Columns []string `cbor:"columns"`
		Rows    [][]any  `cbor:"rows"`
	}
	in := rows{
		Columns: []string{"date", "revenue", "meta"},
		Rows: [][]any{
			{"2024-01-01", 12.5, map[string]any{"src": "web"}},
			{"2024-01-02", nil, map[string]any{"src": "app"}},
		},
	}

	packed, err := Pack(in)
	require.NoError(t, err)

	var out rows
	require.NoError(t, Unpack(packed, &out))
	assert.Equal(t, in.Columns, out.Columns)
	assert.Equal(t, "web", out.Rows[0][2].(map[string]any)["src"])
	assert.Nil(t, out.Rows[1][1])
}

func TestMarshalIsDeterministic(t *testing.T) {
	a, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte(`{"date":"2024-01-01","revenue":1}`), 500)
	small := Compress(data)
	assert.Less(t, len(small), len(data)/4)

	back, err := Decompress(small)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestUnpackRejectsGarbage(t *testing.T) {
	var v any
	assert.Error(t, Unpack([]byte("definitely not zstd"), &v))
}

func TestDigest(t *testing.T) {
	full := Digest([]byte("SELECT 1"), 0)
	assert.Len(t, full, 64)
	assert.Equal(t, full[:10], Digest([]byte("SELECT 1"), 10))
	assert.NotEqual(t, full, Digest([]byte("SELECT 2"), 0))
}
