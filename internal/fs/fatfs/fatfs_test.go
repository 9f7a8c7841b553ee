package fatfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setFAT12Entry packs a 12-bit cluster value into fat at the given
// cluster index, matching the on-disk FAT12 bit-packing scheme.
func setFAT12Entry(fat []byte, cluster int, value uint16) {
	off := cluster * 3 / 2
	if cluster%2 == 0 {
		fat[off] = byte(value & 0xFF)
		fat[off+1] = (fat[off+1] & 0xF0) | byte((value>>8)&0x0F)
	} else {
		fat[off] = (fat[off] & 0x0F) | byte((value&0x0F)<<4)
		fat[off+1] = byte(value >> 4)
	}
}

func buildFAT12Image(t *testing.T, fileData []byte) []byte {
	t.Helper()
	const (
		bytesPerSector    = 512
		sectorsPerCluster = 1
		reservedSectors   = 1
		numFATs           = 1
		rootEntries       = 16
		sectorsPerFAT     = 1
		rootDirSectors    = 1 // 16*32/512
		dataSectors       = 8
		totalSectors      = reservedSectors + numFATs*sectorsPerFAT + rootDirSectors + dataSectors
	)
	img := make([]byte, totalSectors*bytesPerSector)
	binary.LittleEndian.PutUint16(img[11:13], bytesPerSector)
	img[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(img[14:16], reservedSectors)
	img[16] = numFATs
	binary.LittleEndian.PutUint16(img[17:19], rootEntries)
	binary.LittleEndian.PutUint16(img[19:21], totalSectors)
	binary.LittleEndian.PutUint16(img[22:24], sectorsPerFAT)
	img[510], img[511] = 0x55, 0xAA

	fatStart := reservedSectors * bytesPerSector
	fat := img[fatStart : fatStart+sectorsPerFAT*bytesPerSector]
	setFAT12Entry(fat, 2, 0xFFF) // single-cluster file, end of chain

	rootStart := (reservedSectors + numFATs*sectorsPerFAT) * bytesPerSector
	entry := img[rootStart : rootStart+32]
	copy(entry[0:8], []byte("HELLO   "))
	copy(entry[8:11], []byte("TXT"))
	binary.LittleEndian.PutUint16(entry[26:28], 2) // first cluster
	binary.LittleEndian.PutUint32(entry[28:32], uint32(len(fileData)))

	dataStart := (reservedSectors + numFATs*sectorsPerFAT + rootDirSectors) * bytesPerSector
	copy(img[dataStart:], fileData)

	return img
}

func TestMountAndReadRootFile(t *testing.T) {
	img := buildFAT12Image(t, []byte("hello fat"))

	f, err := Mount(img)
	require.NoError(t, err)

	list, err := f.List("")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "HELLO.TXT", list[0].Path)

	data, err := f.Read("HELLO.TXT")
	require.NoError(t, err)
	assert.Equal(t, "hello fat", string(data))
}

func TestStripBootOffsetFindsOffset(t *testing.T) {
	img := buildFAT12Image(t, []byte("x"))
	padded := make([]byte, BootOffsetCandidate+len(img))
	copy(padded[BootOffsetCandidate:], img)

	stripped, offset, ok := StripBootOffset(padded)
	require.True(t, ok)
	assert.Equal(t, BootOffsetCandidate, offset)
	assert.Equal(t, img[510], stripped[510])
}

func TestStripBootOffsetNoSignature(t *testing.T) {
	_, _, ok := StripBootOffset(make([]byte, 4096))
	assert.False(t, ok)
}

func TestMountRejectsMissingSignature(t *testing.T) {
	_, err := Mount(make([]byte, 512))
	require.Error(t, err)
}
