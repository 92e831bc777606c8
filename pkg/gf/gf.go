// Package gf implements arithmetic over the Galois fields GF(2^8) and
// GF(2^16) together with the aligned region operations the erasure codecs
// are built on.
//
// A Field instance is constructed once per codec with the generator
// polynomial mandated by the on-disk format; all per-element and per-region
// operations dispatch through the instance, never by branching on width at
// the call site.
package gf

// Generator polynomials used by the PAR3 format. The Cauchy and FFT codecs
// agree on the 8-bit polynomial but differ for 16 bits.
const (
	Poly8       = 0x11D
	PolyCauchy8 = Poly8
	PolyFFT8    = Poly8

	PolyCauchy16 = 0x1100B
	PolyFFT16    = 0x1002D
)

// Field is the capability set the codecs need from a Galois field:
// scalar multiply/divide/invert plus the fused region multiply-accumulate
// that dominates encode and decode time.
type Field interface {
	// Bits returns the field width in bits (8 or 16).
	Bits() int

	// WordSize returns the size in bytes of one field element.
	WordSize() int

	// Polynomial returns the generator polynomial.
	Polynomial() uint32

	// Mul returns x*y in the field.
	Mul(x, y uint32) uint32

	// Div returns x/y in the field. Division by zero returns 0.
	Div(x, y uint32) uint32

	// Inv returns the multiplicative inverse of x. Inv(0) returns 0.
	Inv(x uint32) uint32

	// MulAdd computes dst ^= c*src element-wise over a region.
	// len(src) must not exceed len(dst); both must be a multiple of the
	// word size. c == 0 is a no-op, c == 1 a plain XOR.
	MulAdd(dst, src []byte, c uint32)

	// MulRegion computes dst = c*dst element-wise in place.
	MulRegion(dst []byte, c uint32)
}

// New returns a Field of the given width constructed over poly.
// Widths other than 8 and 16 panic: the format defines no others.
func New(bits int, poly uint32) Field {
	switch bits {
	case 8:
		return New8(poly)
	case 16:
		return New16(poly)
	}
	panic("gf: unsupported field width")
}
