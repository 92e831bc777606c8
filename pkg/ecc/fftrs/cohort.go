package fftrs

// Interleaver partitions a set of blocks into c independent cohorts by
// index mod c. Each cohort is encoded and decoded on its own, which lifts
// the per-codec recovery cap by a factor of c at the price of losing
// cross-cohort correlation: recovery blocks in one cohort cannot repair
// losses in another.
type Interleaver struct {
	cohorts    int
	blockCount int
}

// NewInterleaver returns an interleaver over blockCount blocks split into
// cohorts groups. cohorts < 1 is treated as 1 (no interleaving).
func NewInterleaver(blockCount, cohorts int) *Interleaver {
	if cohorts < 1 {
		cohorts = 1
	}
	return &Interleaver{cohorts: cohorts, blockCount: blockCount}
}

// Cohorts returns the number of cohorts.
func (iv *Interleaver) Cohorts() int { return iv.cohorts }

// CohortBlockCount returns the per-cohort input block count,
// ceil(blockCount/cohorts). Cohorts whose last slot has no real block pad
// it with zeros in memory.
func (iv *Interleaver) CohortBlockCount() int {
	return (iv.blockCount + iv.cohorts - 1) / iv.cohorts
}

// CohortOf returns the cohort a global input block index belongs to.
func (iv *Interleaver) CohortOf(global int) int { return global % iv.cohorts }

// LocalIndex returns the index of a global input block inside its cohort.
func (iv *Interleaver) LocalIndex(global int) int { return global / iv.cohorts }

// GlobalIndex returns the global index of a cohort-local input block, or
// -1 when the slot is padding past the end of the set.
func (iv *Interleaver) GlobalIndex(cohort, local int) int {
	g := local*iv.cohorts + cohort
	if g >= iv.blockCount {
		return -1
	}
	return g
}

// Recovery blocks interleave the same way: the block with absolute
// recovery index r serves cohort r%cohorts as its local index r/cohorts.

// RecoveryCohortOf returns the cohort a recovery block index serves.
func (iv *Interleaver) RecoveryCohortOf(r int) int { return r % iv.cohorts }

// RecoveryLocalIndex returns a recovery index local to its cohort.
func (iv *Interleaver) RecoveryLocalIndex(r int) int { return r / iv.cohorts }

// AlignRecovery rounds a recovery range so that first and count are both
// multiples of the cohort count, guaranteeing every cohort receives the
// same number of recovery blocks.
func AlignRecovery(first, count, cohorts uint64) (alignedFirst, alignedCount uint64) {
	if cohorts <= 1 {
		return first, count
	}
	alignedFirst = first / cohorts * cohorts
	end := first + count
	alignedEnd := (end + cohorts - 1) / cohorts * cohorts
	return alignedFirst, alignedEnd - alignedFirst
}
