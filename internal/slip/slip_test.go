package slip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeS1(t *testing.T) {
	in := []byte{0xC0, 0xDB, 0x00, 0xFF}
	want := []byte{0xC0, 0xDB, 0xDC, 0xDB, 0xDD, 0x00, 0xFF, 0xC0}
	assert.Equal(t, want, Encode(in))
}

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xC0, 0xDB, 0x00, 0xFF},
		{0xDB, 0xDB, 0xDB},
		{0xC0, 0xC0, 0xC0},
		make([]byte, 4096),
	}
	for _, c := range cases {
		encoded := Encode(c)
		decoded, consumed, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), consumed)
		assert.Equal(t, c, decoded)
	}
}

func TestDecodeAllConcatenatedFrames(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{0xC0, 0xDB}
	c := []byte{}
	stream := append(append(Encode(a), Encode(b)...), Encode(c)...)

	frames, remainder := DecodeAll(stream)
	require.Len(t, frames, 3)
	assert.Equal(t, a, frames[0])
	assert.Equal(t, b, frames[1])
	assert.Equal(t, c, frames[2])
	assert.Equal(t, 0, remainder)
}

func TestDecodeToleratesLeadingGarbage(t *testing.T) {
	garbage := []byte{'b', 'o', 'o', 't', '\n'}
	stream := append(garbage, Encode([]byte{0xAA, 0xBB})...)

	decoded, consumed, err := Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, decoded)
	assert.Equal(t, len(stream), consumed)
}

func TestDecodeDanglingEscape(t *testing.T) {
	stream := []byte{0xC0, 0xDB, 0xC0}
	_, _, err := Decode(stream)
	assert.ErrorIs(t, err, ErrDangling)
}

func TestDecodeUnterminated(t *testing.T) {
	stream := []byte{0xC0, 0x01, 0x02}
	_, _, err := Decode(stream)
	assert.ErrorIs(t, err, ErrUnterminated)
}

func TestDecodeAllPartialRemainder(t *testing.T) {
	full := Encode([]byte{1, 2, 3})
	partial := []byte{0xC0, 0x09}
	stream := append(append([]byte{}, full...), partial...)

	frames, remainder := DecodeAll(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, len(partial), remainder)
}
