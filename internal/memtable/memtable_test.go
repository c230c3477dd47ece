package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nilotpal-labs/sworndisk/internal/record"
)

func TestInsertFind(t *testing.T) {
	mt := New()
	rec := record.Record{HBA: 42}
	mt.Insert(10, rec)

	got, ok := mt.Find(10)
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestFindFastRejectsOutsideRange(t *testing.T) {
	mt := New()
	mt.Insert(10, record.Record{HBA: 1})
	mt.Insert(20, record.Record{HBA: 2})

	_, ok := mt.Find(5)
	require.False(t, ok)
	_, ok = mt.Find(25)
	require.False(t, ok)
	_, ok = mt.Find(15)
	require.False(t, ok, "15 is in range but was never inserted")
}

func TestSizeIsCardinalityNotInsertionCount(t *testing.T) {
	mt := New()
	mt.Insert(1, record.Record{HBA: 1})
	mt.Insert(1, record.Record{HBA: 2})
	mt.Insert(2, record.Record{HBA: 3})

	require.Equal(t, 2, mt.Size())
}

func TestIterAscending(t *testing.T) {
	mt := New()
	mt.Insert(30, record.Record{})
	mt.Insert(10, record.Record{})
	mt.Insert(20, record.Record{})

	var seen []uint64
	mt.Iter(func(lba uint64, rec record.Record) bool {
		seen = append(seen, lba)
		return true
	})

	require.Equal(t, []uint64{10, 20, 30}, seen)
}

func TestClearResetsRangeAndSize(t *testing.T) {
	mt := New()
	mt.Insert(1, record.Record{})
	mt.Clear()

	require.Equal(t, 0, mt.Size())
	_, ok := mt.Find(1)
	require.False(t, ok)
}
