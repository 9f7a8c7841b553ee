package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "nvs", Type: TypeData, Subtype: SubtypeDataNVS, Offset: 0x9000, Size: 0x6000},
		{Name: "factory", Type: TypeApp, Subtype: SubtypeAppFactory, Offset: 0x10000, Size: 0x100000},
		{Name: "spiffs", Type: TypeData, Subtype: SubtypeDataSPIFFS, Offset: 0x110000, Size: 0x1F0000},
	}

	table := Encode(entries)
	got, err := Parse(table)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestParseStopsAtTerminator(t *testing.T) {
	table := Encode([]Entry{{Name: "nvs", Type: TypeData, Subtype: SubtypeDataNVS, Offset: 0x9000, Size: 0x6000}})
	entries, err := Parse(table)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParseRejectsBadMagic(t *testing.T) {
	table := make([]byte, TableSize)
	for i := range table {
		table[i] = 0x00
	}
	_, err := Parse(table)
	require.Error(t, err)
	var malformed *ErrMalformed
	require.ErrorAs(t, err, &malformed)
}

func TestFind(t *testing.T) {
	entries := []Entry{
		{Name: "nvs", Type: TypeData, Subtype: SubtypeDataNVS, Offset: 0x9000, Size: 0x6000},
	}
	e, ok := Find(entries, TypeData, SubtypeDataNVS)
	require.True(t, ok)
	assert.Equal(t, uint32(0x9000), e.Offset)

	_, ok = Find(entries, TypeData, SubtypeDataFAT)
	assert.False(t, ok)
}

func TestIsOTASlot(t *testing.T) {
	assert.True(t, IsOTASlot(TypeApp, SubtypeAppOTAMin))
	assert.True(t, IsOTASlot(TypeApp, SubtypeAppOTAMax))
	assert.False(t, IsOTASlot(TypeApp, SubtypeAppFactory))
	assert.False(t, IsOTASlot(TypeData, SubtypeDataNVS))
}
