package arena

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes_AppendGet(t *testing.T) {
	a := New(64)

	h1, err := a.Append([]byte("alpha"))
	require.NoError(t, err)
	h2, err := a.Append(nil)
	require.NoError(t, err)
	h3, err := a.Append([]byte("beta"))
	require.NoError(t, err)

	assert.Equal(t, []byte("alpha"), a.Get(h1))
	assert.Empty(t, a.Get(h2))
	assert.Equal(t, []byte("beta"), a.Get(h3))
	assert.True(t, a.Equal(h1, []byte("alpha")))
	assert.False(t, a.Equal(h1, []byte("alph")))
	assert.Negative(t, a.Compare(h1, h3))
}

func TestBytes_ChunkRollover(t *testing.T) {
	a := New(32)
	handles := make([]Handle, 0, 100)
	for i := range 100 {
		h, err := a.Append(fmt.Appendf(nil, "term-%03d", i))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for i, h := range handles {
		assert.Equal(t, fmt.Sprintf("term-%03d", i), string(a.Get(h)))
	}
	assert.Greater(t, a.Stats().Chunks, 1)
	assert.Equal(t, 100, a.Stats().Values)
}

func TestBytes_OversizedValue(t *testing.T) {
	a := New(16)
	small, err := a.Append([]byte("x"))
	require.NoError(t, err)

	big := bytes.Repeat([]byte{0xAB}, 1000)
	hb, err := a.Append(big)
	require.NoError(t, err)

	after, err := a.Append([]byte("y"))
	require.NoError(t, err)

	assert.Equal(t, big, a.Get(hb))
	assert.Equal(t, []byte("x"), a.Get(small))
	assert.Equal(t, []byte("y"), a.Get(after))
}

func TestBytes_Reset(t *testing.T) {
	a := New(0)
	_, err := a.Append([]byte("value"))
	require.NoError(t, err)
	assert.NotZero(t, a.Stats().BytesUsed)

	a.Reset()
	assert.Equal(t, Stats{}, a.Stats())
}
