package zero_test

import (
	"testing"

	"github.com/electra-project/ecawallet/internal/zero"
	"github.com/stretchr/testify/require"
)

func makeOneBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

func TestBytes(t *testing.T) {
	tests := []int{
		0, 31, 32, 33, 127, 128, 129, 255, 256, 256, 257, 383, 384, 385,
		511, 512, 513,
	}

	for _, n := range tests {
		b := makeOneBytes(n)
		zero.Bytes(b)
		require.Equal(t, make([]byte, n), b, "n=%d", n)

		// Clear only the first half and make sure the second half is
		// left untouched.
		b = makeOneBytes(n)
		zero.Bytes(b[:n/2])
		require.Equal(t, make([]byte, n/2), b[:n/2], "n=%d", n)
		require.Equal(t, makeOneBytes(n-n/2), b[n/2:], "n=%d", n)
	}
}

func TestBytea(t *testing.T) {
	var b32 [32]byte
	copy(b32[:], makeOneBytes(32))
	zero.Bytea32(&b32)
	require.Equal(t, [32]byte{}, b32)

	var b64 [64]byte
	copy(b64[:], makeOneBytes(64))
	zero.Bytea64(&b64)
	require.Equal(t, [64]byte{}, b64)
}
