package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstZeroBit(t *testing.T) {
	b := New(8)
	for i := uint(0); i < 5; i++ {
		b.Set(i)
	}

	idx, err := b.FirstZero()
	require.NoError(t, err)
	require.Equal(t, uint(5), idx)
}

func TestFirstZeroExhausted(t *testing.T) {
	b := New(4)
	for i := uint(0); i < 4; i++ {
		b.Set(i)
	}

	_, err := b.FirstZero()
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	b := New(20)
	b.Set(0)
	b.Set(7)
	b.Set(19)

	data := b.MarshalTo()
	require.Equal(t, ByteLen(20), uint(len(data)))

	got, err := UnmarshalFrom(data, 20)
	require.NoError(t, err)
	require.True(t, got.Test(0))
	require.True(t, got.Test(7))
	require.True(t, got.Test(19))
	require.False(t, got.Test(1))
	require.Equal(t, uint(3), got.Count())
}

func TestClear(t *testing.T) {
	b := New(4)
	b.Set(2)
	require.True(t, b.Test(2))
	b.Clear(2)
	require.False(t, b.Test(2))
}
