package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTrip(t *testing.T) {
	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	defer c.Close()

	data := bytes.Repeat([]byte("0123456789abcdef refs/heads/main\n"), 64)
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))
	assert.True(t, bytes.HasPrefix(compressed, zstdMagic))

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressor_SmallPayloadStaysRaw(t *testing.T) {
	c, err := NewCompressor(1, true)
	require.NoError(t, err)
	defer c.Close()

	data := []byte("tiny")
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, compressed)

	out, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressor_DisabledStillReadsFrames(t *testing.T) {
	on, err := NewCompressor(3, true)
	require.NoError(t, err)
	defer on.Close()
	off, err := NewCompressor(0, false)
	require.NoError(t, err)
	defer off.Close()

	data := bytes.Repeat([]byte("x"), 4*MinSize)
	compressed, err := on.Compress(data)
	require.NoError(t, err)

	raw, err := off.Compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
	assert.False(t, off.Enabled())

	out, err := off.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressor_CorruptFrame(t *testing.T) {
	c, err := NewCompressor(2, true)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress(append(append([]byte{}, zstdMagic...), 0xff, 0xff, 0xff))
	assert.Error(t, err)
}
