package spiffs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	espfs "github.com/Jason2866/esp32tool/internal/fs"
)

func TestWriteSerializeMountRoundTrip(t *testing.T) {
	s := New(4096)
	require.NoError(t, s.Write("/config.json", []byte(`{"ssid":"home"}`)))
	require.NoError(t, s.Write("/data/log.txt", []byte("boot ok")))

	img, err := s.Serialize()
	require.NoError(t, err)
	assert.Len(t, img, 4096)

	mounted, err := Mount(img)
	require.NoError(t, err)

	data, err := mounted.Read("/config.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ssid":"home"}`, string(data))

	list, err := mounted.List("")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMkdirNotSupported(t *testing.T) {
	s := New(4096)
	err := s.Mkdir("/sub")
	require.Error(t, err)
	var notSupported *espfs.ErrNotSupported
	require.ErrorAs(t, err, &notSupported)
}

func TestMountRejectsBadMagic(t *testing.T) {
	_, err := Mount(make([]byte, 64))
	require.Error(t, err)
	var mountFailed *espfs.ErrMountFailed
	require.ErrorAs(t, err, &mountFailed)
}

func TestDelete(t *testing.T) {
	s := New(4096)
	require.NoError(t, s.Write("/a", []byte("x")))
	require.NoError(t, s.Delete("/a"))
	list, err := s.List("")
	require.NoError(t, err)
	assert.Empty(t, list)
}
