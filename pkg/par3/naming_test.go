package par3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeFileNames(t *testing.T) {
	names := VolumeFileNames("backup", "vol", 0, []uint64{1, 2, 4, 8, 16, 32, 37})
	require.Len(t, names, 7)
	assert.Equal(t, "backup.vol00+01.par3", names[0])
	assert.Equal(t, "backup.vol01+02.par3", names[1])
	assert.Equal(t, "backup.vol63+37.par3", names[6])

	names = VolumeFileNames("x", "part", 0, []uint64{5})
	assert.Equal(t, []string{"x.part0+5.par3"}, names)
}

func TestIndexAndTempNames(t *testing.T) {
	assert.Equal(t, "backup.par3", IndexFileName("backup"))

	id := SetID{0xAB, 0xCD, 0, 0, 0, 0, 0, 1}
	assert.Equal(t, "par3_abcd000000000001_3.tmp", TempFileName(id, 3))
}

func TestSetBase(t *testing.T) {
	assert.Equal(t, "backup", SetBase("backup.par3"))
	assert.Equal(t, "backup", SetBase("backup.vol01+02.par3"))
	assert.Equal(t, "backup", SetBase("backup.part0+5.par3"))
	assert.Equal(t, "a/b.c", SetBase("a/b.c.par3"))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFileName(`a\b:c`))
	assert.Equal(t, "_ON.txt", SanitizeFileName("CON.txt"))
	assert.Equal(t, "_PT1", SanitizeFileName("LPT1"))
	assert.Equal(t, "normal.txt", SanitizeFileName("normal.txt"))
	assert.Equal(t, "q_u_o_t_e_", SanitizeFileName(`q*u?o"t<e>`))
}

func TestNormalizePath(t *testing.T) {
	p, err := NormalizePath("./a/b/../c")
	require.NoError(t, err)
	assert.Equal(t, "a/c", p)

	p, err = NormalizePath(`win\style\path`)
	require.NoError(t, err)
	assert.Equal(t, "win/style/path", p)

	_, err = NormalizePath("../escape")
	assert.Error(t, err)
	_, err = NormalizePath("a/../..")
	assert.Error(t, err)
}

func TestValidSetPath(t *testing.T) {
	assert.True(t, ValidSetPath("a/b.bin"))
	assert.False(t, ValidSetPath("/abs/path"))
	assert.False(t, ValidSetPath("../up"))
	assert.False(t, ValidSetPath(""))
	assert.False(t, ValidSetPath("a/../../b"))
}
