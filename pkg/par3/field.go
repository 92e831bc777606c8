package par3

import "github.com/marmos91/par3/pkg/gf"

// newField constructs the Galois field instance a set's Start packet
// prescribes.
func newField(bits int, poly uint32) gf.Field {
	return gf.New(bits, poly)
}
