package gf

import "encoding/binary"

// GF16 is GF(2^16). Full 65536x65536 product tables would cost 8 GiB, so
// region multiplication goes through four 16-entry half-tables, one per
// 4-bit slice of the source word.
type GF16 struct {
	poly uint32
	log  []uint32 // 65536 entries
	exp  []uint16 // 2*65535 entries, doubled to skip reduction
}

// New16 builds the GF(2^16) log/ilog tables over the given polynomial.
func New16(poly uint32) *GF16 {
	f := &GF16{
		poly: poly,
		log:  make([]uint32, 65536),
		exp:  make([]uint16, 65535*2),
	}
	b := uint32(1)
	for i := 0; i < 65535; i++ {
		f.log[b] = uint32(i)
		f.exp[i] = uint16(b)
		f.exp[i+65535] = uint16(b)
		b <<= 1
		if b&0x10000 != 0 {
			b = (b ^ poly) & 0xFFFF
		}
	}
	f.log[0] = 65535
	return f
}

func (f *GF16) Bits() int          { return 16 }
func (f *GF16) WordSize() int      { return 2 }
func (f *GF16) Polynomial() uint32 { return f.poly }

func (f *GF16) Mul(x, y uint32) uint32 {
	if x == 0 || y == 0 {
		return 0
	}
	return uint32(f.exp[f.log[x&0xFFFF]+f.log[y&0xFFFF]])
}

func (f *GF16) Div(x, y uint32) uint32 {
	if x == 0 || y == 0 {
		return 0
	}
	d := int(f.log[x&0xFFFF]) - int(f.log[y&0xFFFF])
	if d < 0 {
		d += 65535
	}
	return uint32(f.exp[d])
}

func (f *GF16) Inv(x uint32) uint32 {
	if x == 0 {
		return 0
	}
	return uint32(f.exp[65535-int(f.log[x&0xFFFF])])
}

// halfTables fills the four nibble product tables for the constant c:
// tab[k][n] = c * (n << 4k). A product c*w is then the XOR of four lookups.
func (f *GF16) halfTables(c uint32, tab *[4][16]uint16) {
	for k := 0; k < 4; k++ {
		tab[k][0] = 0
		for n := uint32(1); n < 16; n++ {
			tab[k][n] = uint16(f.Mul(c, n<<(4*uint(k))))
		}
	}
}

// MulAdd computes dst ^= c*src over little-endian 16-bit words.
// Region lengths must be even.
func (f *GF16) MulAdd(dst, src []byte, c uint32) {
	if c == 0 {
		return
	}
	if c == 1 {
		for i := range src {
			dst[i] ^= src[i]
		}
		return
	}
	var tab [4][16]uint16
	f.halfTables(c, &tab)
	for i := 0; i+1 < len(src); i += 2 {
		w := uint32(binary.LittleEndian.Uint16(src[i:]))
		p := tab[0][w&15] ^ tab[1][(w>>4)&15] ^ tab[2][(w>>8)&15] ^ tab[3][(w>>12)&15]
		binary.LittleEndian.PutUint16(dst[i:], binary.LittleEndian.Uint16(dst[i:])^p)
	}
}

func (f *GF16) MulRegion(dst []byte, c uint32) {
	if c == 1 {
		return
	}
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	var tab [4][16]uint16
	f.halfTables(c, &tab)
	for i := 0; i+1 < len(dst); i += 2 {
		w := uint32(binary.LittleEndian.Uint16(dst[i:]))
		p := tab[0][w&15] ^ tab[1][(w>>4)&15] ^ tab[2][(w>>8)&15] ^ tab[3][(w>>12)&15]
		binary.LittleEndian.PutUint16(dst[i:], p)
	}
}
