package gf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGF8Tables(t *testing.T) {
	f := New8(PolyCauchy8)

	// Multiplying by 1 is the identity on every non-zero element 1..255.
	seen := make(map[uint32]bool)
	for x := uint32(1); x < 256; x++ {
		p := f.Mul(x, 1)
		assert.Equal(t, x, p, "x*1 must be x")
		seen[x] = true
	}
	assert.Len(t, seen, 255)

	// x * inv(x) == 1 for all non-zero x.
	for x := uint32(1); x < 256; x++ {
		require.Equal(t, uint32(1), f.Mul(x, f.Inv(x)), "x=%d", x)
	}

	// Division inverts multiplication.
	for _, tc := range [][3]uint32{{3, 7, 0}, {200, 90, 0}, {255, 255, 0}} {
		p := f.Mul(tc[0], tc[1])
		assert.Equal(t, tc[0], f.Div(p, tc[1]))
		assert.Equal(t, tc[1], f.Div(p, tc[0]))
	}

	assert.Equal(t, uint32(0), f.Mul(0, 123))
	assert.Equal(t, uint32(0), f.Inv(0))
}

func TestGF16Tables(t *testing.T) {
	f := New16(PolyCauchy16)

	for _, x := range []uint32{1, 2, 255, 256, 0x1234, 0xFFFF} {
		require.Equal(t, uint32(1), f.Mul(x, f.Inv(x)), "x=%#x", x)
		require.Equal(t, x, f.Mul(x, 1))
	}

	// Distributivity spot checks: c*(a^b) == c*a ^ c*b.
	for _, tc := range [][3]uint32{{0x1234, 0x00FF, 3}, {0xABCD, 0x8001, 0x7777}} {
		a, b, c := tc[0], tc[1], tc[2]
		assert.Equal(t, f.Mul(c, a)^f.Mul(c, b), f.Mul(c, a^b))
	}
}

func TestMulAddMatchesScalar(t *testing.T) {
	for _, field := range []Field{New8(PolyCauchy8), New16(PolyCauchy16)} {
		src := make([]byte, 64)
		dst := make([]byte, 64)
		for i := range src {
			src[i] = byte(i*37 + 11)
			dst[i] = byte(i * 5)
		}
		want := make([]byte, 64)
		copy(want, dst)

		c := uint32(0x1F)
		field.MulAdd(dst, src, c)

		ws := field.WordSize()
		for i := 0; i < 64; i += ws {
			var s, w uint32
			if ws == 1 {
				s = uint32(src[i])
				w = uint32(want[i]) ^ field.Mul(c, s)
				require.Equal(t, byte(w), dst[i], "bits=%d i=%d", field.Bits(), i)
			} else {
				s = uint32(src[i]) | uint32(src[i+1])<<8
				w = (uint32(want[i]) | uint32(want[i+1])<<8) ^ field.Mul(c, s)
				require.Equal(t, byte(w), dst[i], "bits=%d i=%d", field.Bits(), i)
				require.Equal(t, byte(w>>8), dst[i+1], "bits=%d i=%d", field.Bits(), i)
			}
		}
	}
}

func TestMulAddSpecialCoefficients(t *testing.T) {
	f := New8(Poly8)
	src := []byte{1, 2, 3, 4}
	dst := []byte{10, 20, 30, 40}

	orig := make([]byte, 4)
	copy(orig, dst)
	f.MulAdd(dst, src, 0)
	assert.True(t, bytes.Equal(orig, dst), "c=0 must be a no-op")

	f.MulAdd(dst, src, 1)
	assert.Equal(t, []byte{11, 22, 29, 44}, dst, "c=1 must be plain XOR")
}

func TestRegionParity(t *testing.T) {
	region := make([]byte, RegionSize(100, 4))
	require.Equal(t, uint64(100+4), RegionSize(100, 4))

	for i := 0; i < DataSize(region); i++ {
		region[i] = byte(i)
	}
	CreateParity(region)
	assert.True(t, CheckParity(region))

	region[13] ^= 0x40
	assert.False(t, CheckParity(region), "corruption must fail the parity check")
}

func TestRegionSizeAlignment(t *testing.T) {
	assert.Equal(t, uint64(64+4), RegionSize(1, 64))
	assert.Equal(t, uint64(128+4), RegionSize(65, 64))
	assert.Equal(t, uint64(4+4), RegionSize(3, 4))
	assert.Equal(t, uint64(1024+4), RegionSize(1024, 4))
}

func TestParityStableUnderMulAdd(t *testing.T) {
	// MulAdd over the whole region (including the parity words) must keep
	// the parity valid: the check is linear in the data.
	f := New16(PolyCauchy16)
	a := make([]byte, RegionSize(32, 4))
	b := make([]byte, RegionSize(32, 4))
	for i := 0; i < DataSize(a); i++ {
		a[i] = byte(i + 1)
		b[i] = byte(i * 3)
	}
	CreateParity(a)
	CreateParity(b)

	f.MulAdd(a, b, 0x0305)
	assert.True(t, CheckParity(a))
}
