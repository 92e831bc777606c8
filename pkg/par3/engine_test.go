package par3

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createSet encodes inputs living in dir and returns the index file path.
func createSet(t *testing.T, dir string, opts CreateOptions, inputs ...InputFile) (*CreateResult, string) {
	t.Helper()
	if opts.OutBase == "" {
		opts.OutBase = filepath.Join(dir, "backup")
	}
	c, err := NewCreator(opts)
	require.NoError(t, err)
	result, err := c.Run(inputs, nil)
	require.NoError(t, err)
	return result, opts.OutBase + ".par3"
}

func verifySet(t *testing.T, parFile string) (*Verifier, *VerifyResult) {
	t.Helper()
	v, err := NewVerifier(VerifyOptions{ParFile: parFile})
	require.NoError(t, err)
	result, err := v.Run()
	require.NoError(t, err)
	return v, result
}

func repairSet(t *testing.T, parFile string, memLimit uint64) *RepairResult {
	t.Helper()
	opts := VerifyOptions{ParFile: parFile, MemoryLimit: memLimit}
	v, err := NewVerifier(opts)
	require.NoError(t, err)
	vres, err := v.Run()
	require.NoError(t, err)
	result, err := NewRecoverer(v, opts).Run(vres)
	require.NoError(t, err)
	return result
}

func corrupt(t *testing.T, path string, offset int64, n int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	junk := make([]byte, n)
	for i := range junk {
		junk[i] = byte(211 + i)
	}
	_, err = f.WriteAt(junk, offset)
	require.NoError(t, err)
}

func TestCreateVerifyAllComplete(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", pattern(5000, 1))
	b := writeInput(t, dir, "b.bin", pattern(3000, 2))

	result, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 3}, a, b)
	assert.NotZero(t, result.BlockCount)
	assert.Equal(t, uint64(3), result.RecoveryCount)

	_, vres := verifySet(t, parFile)
	assert.True(t, vres.AllComplete)
	assert.Equal(t, result.SetID, vres.SetID)
	assert.Zero(t, vres.LostBlocks)
	for _, f := range vres.Files {
		assert.Equal(t, VerdictComplete, f.Verdict, f.Name)
	}
}

func TestSetIDDeterministic(t *testing.T) {
	content := pattern(4000, 3)

	makeOne := func() SetID {
		dir := t.TempDir()
		in := writeInput(t, dir, "a.bin", content)
		result, _ := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 2}, in)
		return result.SetID
	}
	assert.Equal(t, makeOne(), makeOne(), "identical inputs produce the same set id")
}

func TestCreateDeterministicUnderMemorySplit(t *testing.T) {
	content := pattern(5*4096, 4)

	makeFiles := func(memLimit uint64) map[string][]byte {
		dir := t.TempDir()
		in := writeInput(t, dir, "a.bin", content)
		result, _ := createSet(t, dir, CreateOptions{
			BlockSize:     4096,
			RecoveryCount: 3,
			MemoryLimit:   memLimit,
		}, in)
		out := map[string][]byte{}
		for _, f := range result.Files {
			data, err := os.ReadFile(f.Name)
			require.NoError(t, err)
			out[filepath.Base(f.Name)] = data
		}
		return out
	}

	whole := makeFiles(0)
	split := makeFiles(4096) // forces several pieces per block
	require.Equal(t, len(whole), len(split))
	for name, data := range whole {
		assert.True(t, bytes.Equal(data, split[name]), "%s must match the unsplit encoding", name)
	}
}

func TestRepairDeletedFileWithDedup(t *testing.T) {
	dir := t.TempDir()
	// 0x00..0xFF repeated: all blocks identical, so one recovery block
	// covers the whole file even when it is deleted outright.
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	in := writeInput(t, dir, "a.bin", data)

	_, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RedundancyPct: 50,
		Dedup:         DedupFull,
	}, in)

	require.NoError(t, os.Remove(in.DiskPath))

	_, vres := verifySet(t, parFile)
	require.False(t, vres.AllComplete)
	require.True(t, vres.Repairable)
	assert.Equal(t, VerdictMissing, vres.Files[0].Verdict)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)
	require.Contains(t, result.Repaired, "a.bin")

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestRepairDamagedFile(t *testing.T) {
	dir := t.TempDir()
	data := pattern(4096, 7)
	in := writeInput(t, dir, "a.bin", data)

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 2}, in)

	// Damage one block in the middle.
	corrupt(t, in.DiskPath, 1024, 100)

	_, vres := verifySet(t, parFile)
	require.False(t, vres.AllComplete)
	assert.Equal(t, uint64(1), vres.LostBlocks)
	assert.Equal(t, VerdictDamaged, vres.Files[0].Verdict)
	assert.Equal(t, uint64(3072), vres.Files[0].AvailableBytes)
	require.True(t, vres.Repairable)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))

	// The damaged original is kept aside.
	_, err = os.Stat(in.DiskPath + ".1")
	assert.NoError(t, err)
}

func TestRepairTailAndTinyFiles(t *testing.T) {
	dir := t.TempDir()
	big := writeInput(t, dir, "big.bin", pattern(1400, 1))
	mid := writeInput(t, dir, "mid.bin", pattern(600, 2))
	tiny := writeInput(t, dir, "tiny.bin", pattern(20, 3))

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 2}, big, mid, tiny)

	require.NoError(t, os.Remove(mid.DiskPath))
	require.NoError(t, os.Remove(tiny.DiskPath))

	_, vres := verifySet(t, parFile)
	require.True(t, vres.Repairable)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)

	restoredMid, err := os.ReadFile(mid.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pattern(600, 2), restoredMid))

	// Tiny files restore entirely from their inline chunk data.
	restoredTiny, err := os.ReadFile(tiny.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pattern(20, 3), restoredTiny))
}

func TestMisnamedDetectionAndRename(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", pattern(2048, 1))
	b := writeInput(t, dir, "b.bin", pattern(2048, 2))

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 1}, a, b)

	require.NoError(t, os.Rename(a.DiskPath, a.DiskPath+".bak"))
	require.NoError(t, os.Rename(b.DiskPath, b.DiskPath+".bak"))

	_, vres := verifySet(t, parFile)
	require.False(t, vres.AllComplete)
	require.True(t, vres.Repairable)
	for _, f := range vres.Files {
		assert.Equal(t, VerdictMisnamed, f.Verdict, f.Name)
		assert.Contains(t, f.MatchedPath, f.Name+".bak")
	}

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)
	assert.Len(t, result.Renamed, 2)

	restored, err := os.ReadFile(a.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pattern(2048, 1), restored))
}

func TestRepairNotPossibleWithoutEnoughRecovery(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.bin", pattern(4096, 9))

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 1}, in)

	// Two distinct blocks damaged, one recovery block.
	corrupt(t, in.DiskPath, 0, 10)
	corrupt(t, in.DiskPath, 2048, 10)

	_, vres := verifySet(t, parFile)
	assert.False(t, vres.AllComplete)
	assert.Equal(t, uint64(2), vres.LostBlocks)
	assert.False(t, vres.Repairable)
	assert.Equal(t, KindRepairNotPossible, vres.Outcome())
}

func TestRepairFFT(t *testing.T) {
	dir := t.TempDir()
	data := pattern(8*1024, 11)
	in := writeInput(t, dir, "a.bin", data)

	_, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RecoveryCount: 4,
		ECC:           ECCFFT,
	}, in)

	corrupt(t, in.DiskPath, 0, 30)
	corrupt(t, in.DiskPath, 3*1024, 30)
	corrupt(t, in.DiskPath, 7*1024, 30)

	_, vres := verifySet(t, parFile)
	assert.Equal(t, uint64(3), vres.LostBlocks)
	require.True(t, vres.Repairable)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestRepairFFTInterleaved(t *testing.T) {
	dir := t.TempDir()
	data := pattern(16*1024, 13)
	in := writeInput(t, dir, "a.bin", data)

	// Interleave factor 3: four cohorts of four blocks, recovery 8 means
	// two recovery blocks per cohort.
	_, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RecoveryCount: 8,
		ECC:           ECCFFT,
		Interleave:    3,
	}, in)

	// Two losses in cohort 0 (blocks 0 and 4) and one in cohort 2.
	corrupt(t, in.DiskPath, 0, 16)
	corrupt(t, in.DiskPath, 4*1024, 16)
	corrupt(t, in.DiskPath, 2*1024, 16)

	_, vres := verifySet(t, parFile)
	require.True(t, vres.Repairable)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestInterleaveCohortOverload(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.bin", pattern(16*1024, 14))

	_, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RecoveryCount: 8,
		ECC:           ECCFFT,
		Interleave:    3,
	}, in)

	// Three losses inside cohort 0 exceed its two recovery blocks, even
	// though six recovery blocks sit unused in other cohorts.
	corrupt(t, in.DiskPath, 0, 16)
	corrupt(t, in.DiskPath, 4*1024, 16)
	corrupt(t, in.DiskPath, 8*1024, 16)

	_, vres := verifySet(t, parFile)
	assert.False(t, vres.Repairable)
}

func TestRepairWithMemorySplit(t *testing.T) {
	dir := t.TempDir()
	data := pattern(4*4096, 15)
	in := writeInput(t, dir, "a.bin", data)

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 4096, RecoveryCount: 2}, in)

	corrupt(t, in.DiskPath, 4096, 64)

	result := repairSet(t, parFile, 8192) // forces several split passes
	assert.Equal(t, KindOK, result.Outcome)

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestDataVolumesRepairWithoutRecovery(t *testing.T) {
	dir := t.TempDir()
	data := pattern(3000, 17)
	in := writeInput(t, dir, "a.bin", data)

	_, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RecoveryCount: 1,
		StoreData:     true,
	}, in)

	require.NoError(t, os.Remove(in.DiskPath))

	// Every block survives verbatim in the .part volumes, so even a
	// deleted file with one recovery block is repairable.
	_, vres := verifySet(t, parFile)
	require.True(t, vres.Repairable)
	assert.Zero(t, vres.LostBlocks)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestTrialWritesNothing(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.bin", pattern(4096, 19))

	result, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RecoveryCount: 2,
		Trial:         true,
	}, in)

	require.NotEmpty(t, result.Files)
	for _, f := range result.Files {
		assert.Positive(t, f.Size)
	}
	_, err := os.Stat(parFile)
	assert.True(t, os.IsNotExist(err), "trial mode must not write par files")
}

func TestListSet(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "docs/a.txt", pattern(2000, 1))
	b := writeInput(t, dir, "docs/b.txt", pattern(900, 2))

	created, parFile := createSet(t, dir, CreateOptions{
		BlockSize:     1024,
		RecoveryCount: 2,
		Comment:       "weekly archive",
	}, a, b)

	info, err := List(parFile)
	require.NoError(t, err)
	assert.Equal(t, created.SetID, info.SetID)
	assert.Equal(t, uint64(1024), info.BlockSize)
	assert.Equal(t, uint64(2), info.RecoveryCount)
	assert.Equal(t, "weekly archive", info.Comment)
	assert.Contains(t, info.Creator, "par3")
	require.Len(t, info.Files, 2)
	assert.Contains(t, info.Dirs, "docs")

	names := []string{info.Files[0].Name, info.Files[1].Name}
	assert.Contains(t, names, "docs/a.txt")
	assert.Contains(t, names, "docs/b.txt")
}

func TestExtendAddsUsableRecovery(t *testing.T) {
	dir := t.TempDir()
	data := pattern(6*1024, 21)
	in := writeInput(t, dir, "a.bin", data)

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 1}, in)

	_, err := Extend(ExtendOptions{ParFile: parFile, RecoveryCount: 2})
	require.NoError(t, err)

	// Three damaged blocks now need the original plus both new blocks.
	corrupt(t, in.DiskPath, 0, 16)
	corrupt(t, in.DiskPath, 2*1024, 16)
	corrupt(t, in.DiskPath, 4*1024, 16)

	_, vres := verifySet(t, parFile)
	assert.Equal(t, uint64(3), vres.LostBlocks)
	assert.Equal(t, uint64(3), vres.AvailableRecovery)
	require.True(t, vres.Repairable)

	result := repairSet(t, parFile, 0)
	assert.Equal(t, KindOK, result.Outcome)

	restored, err := os.ReadFile(in.DiskPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, restored))
}

func TestDeleteSet(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.bin", pattern(2048, 23))

	_, parFile := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 2}, in)

	planned, err := Delete(parFile, true)
	require.NoError(t, err)
	require.NotEmpty(t, planned)
	for _, p := range planned {
		_, err := os.Stat(p)
		assert.NoError(t, err, "trial delete must not remove %s", p)
	}

	removed, err := Delete(parFile, false)
	require.NoError(t, err)
	assert.Equal(t, planned, removed)
	for _, p := range removed {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
	// The input file is untouched.
	_, err = os.Stat(in.DiskPath)
	assert.NoError(t, err)
}

func TestInsertLinksParent(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", pattern(2048, 25))
	_, parentPar := createSet(t, dir, CreateOptions{BlockSize: 1024, RecoveryCount: 1}, a)

	b := writeInput(t, dir, "b.bin", pattern(1024, 26))
	childBase := filepath.Join(dir, "child")
	result, err := Insert(InsertOptions{
		ParentParFile: parentPar,
		Create: CreateOptions{
			OutBase:       childBase,
			BlockSize:     1024,
			RecoveryCount: 1,
		},
	}, []InputFile{b}, nil)
	require.NoError(t, err)

	store := NewPacketStore()
	_, err = store.ScanFile(childBase + ".par3")
	require.NoError(t, err)
	start, err := store.Start()
	require.NoError(t, err)

	parentStore := NewPacketStore()
	_, err = parentStore.ScanFile(parentPar)
	require.NoError(t, err)

	assert.Equal(t, parentStore.SetID, start.ParentSetID)
	assert.NotEqual(t, parentStore.SetID, result.SetID)
}
