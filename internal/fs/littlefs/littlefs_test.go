package littlefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	espfs "github.com/Jason2866/esp32tool/internal/fs"
)

// TestFormatWriteSerializeMountRoundTrip exercises scenario S5: a blank
// image is formatted, a directory and file are added, and a detect+mount
// on the serialized bytes recovers the same tree.
func TestFormatWriteSerializeMountRoundTrip(t *testing.T) {
	const partitionSize = 64 * 1024
	const blockSize = 4096

	f := New(partitionSize, blockSize, MountOptions{})
	require.NoError(t, f.Mkdir("/config"))
	require.NoError(t, f.Write("/config/wifi.json", []byte(`{"ssid":"home"}`)))

	img, err := f.Serialize()
	require.NoError(t, err)
	assert.Len(t, img, partitionSize)

	kind, detectedBlockSize := espfs.Detect(img, []int{blockSize})
	require.Equal(t, espfs.KindLittleFS, kind)
	assert.Equal(t, blockSize, detectedBlockSize)

	mounted, err := Mount(img, blockSize, MountOptions{})
	require.NoError(t, err)

	data, err := mounted.Read("/config/wifi.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ssid":"home"}`, string(data))

	list, err := mounted.List("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(list), 2)
}

func TestMountFailsWithoutSuperblock(t *testing.T) {
	_, err := Mount(make([]byte, 8192), 4096, MountOptions{})
	require.Error(t, err)
	var mountFailed *espfs.ErrMountFailed
	require.ErrorAs(t, err, &mountFailed)
}

func TestDeleteRemovesEntry(t *testing.T) {
	f := New(16*1024, 1024, MountOptions{})
	require.NoError(t, f.Write("/a.txt", []byte("x")))
	require.NoError(t, f.Delete("/a.txt"))

	list, err := f.List("")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUsedBytesIsMonotoneUpperBound(t *testing.T) {
	f := New(32*1024, 4096, MountOptions{})
	before := f.UsedBytes()
	require.NoError(t, f.Write("/a.bin", make([]byte, 10000)))
	after := f.UsedBytes()
	assert.Greater(t, after, before)
	assert.GreaterOrEqual(t, after, 10000)
}

func TestESP8266OptionsDefaults(t *testing.T) {
	assert.Equal(t, 64, ESP8266Options.ReadSize)
	assert.Equal(t, 32, ESP8266Options.NameMax)
	assert.Equal(t, 16, ESP8266Options.BlockCycles)
}
