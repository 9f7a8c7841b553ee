package nvs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPage constructs a single active NVS page with a namespace
// bootstrap entry ("wifi", index 1) plus one U8 entry "count" = 7 in that
// namespace, each already holding a valid header CRC and bitmap state.
func buildPage(t *testing.T) []byte {
	t.Helper()
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(page[0:4], PageActive)
	binary.LittleEndian.PutUint32(page[4:8], 1)

	writeEntry(page, 0, 0, "wifi", TypeU8, 1, 1, []byte{})
	writeU8(page, 1, 1, "count", 7)
	return page
}

func slotOf(page []byte, i int) []byte {
	off := headerSize + i*EntrySize
	return page[off : off+EntrySize]
}

func setBitmap(page []byte, i int, state EntryState) {
	setEntryBitmapState(page, i, state)
}

// writeEntry writes a namespace-bootstrap entry: ns_index=0, key=name,
// primitive payload = idx (U8).
func writeEntry(page []byte, slot int, ns byte, name string, typ Type, span byte, idx byte, _ []byte) {
	row := slotOf(page, slot)
	row[0] = ns
	row[1] = byte(typ)
	row[2] = span
	row[3] = 0
	copy(row[8:24], []byte(name))
	for i := len(name); i < 16; i++ {
		row[8+i] = 0
	}
	binary.LittleEndian.PutUint64(row[24:32], uint64(idx))
	binary.LittleEndian.PutUint32(row[4:8], headerCRC(row))
	setBitmap(page, slot, StateWritten)
}

func writeU8(page []byte, slot int, ns byte, key string, value uint8) {
	row := slotOf(page, slot)
	row[0] = ns
	row[1] = byte(TypeU8)
	row[2] = 1
	row[3] = 0
	copy(row[8:24], []byte(key))
	for i := len(key); i < 16; i++ {
		row[8+i] = 0
	}
	binary.LittleEndian.PutUint64(row[24:32], uint64(value))
	binary.LittleEndian.PutUint32(row[4:8], headerCRC(row))
	setBitmap(page, slot, StateWritten)
}

func writeString(page []byte, slot int, ns byte, key, value string, span byte) {
	row := slotOf(page, slot)
	row[0] = ns
	row[1] = byte(TypeString)
	row[2] = span
	row[3] = 0
	copy(row[8:24], []byte(key))
	for i := len(key); i < 16; i++ {
		row[8+i] = 0
	}
	data := append([]byte(value), 0)
	binary.LittleEndian.PutUint16(row[24:26], uint16(len(data)))
	binary.LittleEndian.PutUint32(row[28:32], jamCRC(data))
	binary.LittleEndian.PutUint32(row[4:8], headerCRC(row))
	setBitmap(page, slot, StateWritten)

	chunk := data
	for s := 1; s < int(span); s++ {
		body := slotOf(page, slot+s)
		n := copy(body, chunk)
		chunk = chunk[n:]
		setBitmap(page, slot+s, StateWritten)
	}
}

func TestParseDecodesNamespaceAndPrimitive(t *testing.T) {
	page := buildPage(t)
	store, err := Parse(page)
	require.NoError(t, err)

	name, ok := store.Namespace(1)
	require.True(t, ok)
	assert.Equal(t, "wifi", name)

	entry, ok := store.Find(1, "count")
	require.True(t, ok)
	assert.EqualValues(t, 7, entry.Primitive)
	assert.True(t, entry.CRCValid)
}

func TestParseStopsAtUninitializedPage(t *testing.T) {
	first := buildPage(t)
	second := make([]byte, PageSize)
	for i := range second {
		second[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(second[0:4], PageUninitialized)

	store, err := Parse(append(first, second...))
	require.NoError(t, err)
	assert.Len(t, store.pages, 1)
}

// TestStringEntrySpansMultipleSlots exercises scenario S6: a string
// entry spilling across entry slots decodes back to its original value,
// and is rewritten in place via SetString.
func TestStringEntrySpansMultipleSlots(t *testing.T) {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(page[0:4], PageActive)
	writeString(page, 0, 1, "ssid", "home-network", 2)

	store, err := Parse(page)
	require.NoError(t, err)
	entry, ok := store.Find(1, "ssid")
	require.True(t, ok)
	assert.Equal(t, "home-network", entry.String)
	assert.True(t, entry.CRCValid)

	require.NoError(t, store.SetString(1, "ssid", "office"))
	entry, ok = store.Find(1, "ssid")
	require.True(t, ok)
	assert.Equal(t, "office", entry.String)
	assert.True(t, entry.CRCValid)

	reparsed, err := Parse(store.Serialize())
	require.NoError(t, err)
	entry, ok = reparsed.Find(1, "ssid")
	require.True(t, ok)
	assert.Equal(t, "office", entry.String)
}

func TestSetStringOverflowsWhenTooLarge(t *testing.T) {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(page[0:4], PageActive)
	writeString(page, 0, 1, "ssid", "abc", 1) // span 1: zero payload slots

	store, err := Parse(page)
	require.NoError(t, err)

	err = store.SetString(1, "ssid", "too long for a zero-capacity slot")
	var overflow *ErrOverflow
	require.ErrorAs(t, err, &overflow)
}

func TestSetPrimitiveRecomputesCRC(t *testing.T) {
	page := buildPage(t)
	store, err := Parse(page)
	require.NoError(t, err)

	require.NoError(t, store.SetPrimitive(1, "count", TypeU8, 42))
	entry, ok := store.Find(1, "count")
	require.True(t, ok)
	assert.EqualValues(t, 42, entry.Primitive)
	assert.True(t, entry.CRCValid)
}

func TestDeleteClearsBitmapAndEntry(t *testing.T) {
	page := buildPage(t)
	store, err := Parse(page)
	require.NoError(t, err)

	require.NoError(t, store.Delete(1, "count"))
	_, ok := store.Find(1, "count")
	assert.False(t, ok)

	reparsed, err := Parse(store.Serialize())
	require.NoError(t, err)
	_, ok = reparsed.Find(1, "count")
	assert.False(t, ok)
}

func TestHeaderCRCMismatchFlaggedNotDiscarded(t *testing.T) {
	page := buildPage(t)
	row := slotOf(page, 1)
	binary.LittleEndian.PutUint32(row[4:8], 0xDEADBEEF)

	store, err := Parse(page)
	require.NoError(t, err)
	entry, ok := store.Find(1, "count")
	require.True(t, ok)
	assert.False(t, entry.CRCValid)
}
