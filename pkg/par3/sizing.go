package par3

import "fmt"

// SizingScheme selects how recovery blocks are distributed across volume
// files.
type SizingScheme int

const (
	// SizingPowerOfTwo is the default: file k carries min(2^k, remaining).
	SizingPowerOfTwo SizingScheme = iota
	// SizingUniform spreads blocks evenly across a fixed file count.
	SizingUniform
	// SizingLimited grows power-of-two until a file would exceed a byte
	// limit, then repeats the cap.
	SizingLimited
	// SizingVariable scales power-of-two growth to land on a fixed file
	// count.
	SizingVariable
)

// Sizing carries the scheme and its parameter.
type Sizing struct {
	Scheme    SizingScheme
	FileCount int    // SizingUniform, SizingVariable
	SizeLimit uint64 // SizingLimited, in bytes
}

// Distribute splits total recovery blocks into per-file counts.
// perBlockSize is the on-disk cost of one recovery block (packet header
// plus body), used by the size-limited scheme.
func (s Sizing) Distribute(total uint64, perBlockSize uint64) ([]uint64, error) {
	if total == 0 {
		return nil, nil
	}
	switch s.Scheme {
	case SizingUniform:
		if s.FileCount < 1 {
			return nil, NewError(KindInvalidCommand, fmt.Errorf("uniform sizing needs a file count"))
		}
		n := uint64(s.FileCount)
		if n > total {
			n = total
		}
		base := total / n
		extra := total % n
		counts := make([]uint64, n)
		for i := range counts {
			counts[i] = base
			if uint64(i) < extra {
				counts[i]++
			}
		}
		return counts, nil

	case SizingLimited:
		if perBlockSize == 0 {
			perBlockSize = 1
		}
		// Largest power of two whose volume stays within the limit.
		cap64 := uint64(1)
		for cap64*2*perBlockSize <= s.SizeLimit {
			cap64 *= 2
		}
		var counts []uint64
		c := uint64(1)
		for total > 0 {
			n := min(min(c, cap64), total)
			counts = append(counts, n)
			total -= n
			if c < cap64 {
				c *= 2
			}
		}
		return counts, nil

	case SizingVariable:
		if s.FileCount < 1 {
			return nil, NewError(KindInvalidCommand, fmt.Errorf("variable sizing needs a file count"))
		}
		denom := uint64(1)<<uint(s.FileCount) - 1
		base := (total + denom - 1) / denom
		var counts []uint64
		c := base
		for total > 0 {
			n := min(c, total)
			counts = append(counts, n)
			total -= n
			c *= 2
		}
		return counts, nil

	default: // SizingPowerOfTwo
		var counts []uint64
		c := uint64(1)
		for total > 0 {
			n := min(c, total)
			counts = append(counts, n)
			total -= n
			c *= 2
		}
		return counts, nil
	}
}
