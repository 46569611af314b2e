package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRom(t *testing.T, dir, name string, header []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, header, 0o644))
	return path
}

func TestNesRomCheck_MissingFile(t *testing.T) {
	res, err := NesRomCheck(filepath.Join(t.TempDir(), "nope.nes"))
	require.NoError(t, err)
	assert.Equal(t, NesRomMissing, res.Status)
}

func TestNesRomCheck_TruncatedHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeRom(t, dir, "short.nes", []byte{'N', 'E', 'S'})
	res, err := NesRomCheck(path)
	require.NoError(t, err)
	assert.Equal(t, NesRomBadHeader, res.Status)
}

func TestNesRomCheck_MissingMagic(t *testing.T) {
	dir := t.TempDir()
	header := make([]byte, 16)
	copy(header, "XXXX")
	path := writeRom(t, dir, "bad.nes", header)
	res, err := NesRomCheck(path)
	require.NoError(t, err)
	assert.Equal(t, NesRomBadHeader, res.Status)
}

func TestNesRomCheck_ValidMapperZero(t *testing.T) {
	dir := t.TempDir()
	header := make([]byte, 16)
	copy(header, []byte(nesHeaderMagic))
	header[4] = 2 // PRG banks
	header[5] = 1 // CHR banks
	header[6] = 0x00
	header[7] = 0x00
	path := writeRom(t, dir, "good.nes", header)

	res, err := NesRomCheck(path)
	require.NoError(t, err)
	assert.Equal(t, NesRomOK, res.Status)
	assert.Equal(t, 0, res.Mapper)
	assert.Equal(t, 2, res.PrgBanks)
	assert.Equal(t, 1, res.ChrBanks)
}

func TestNesRomCheck_UnsupportedMapper(t *testing.T) {
	dir := t.TempDir()
	header := make([]byte, 16)
	copy(header, []byte(nesHeaderMagic))
	header[6] = 0x20 // mapper low nibble 2
	header[7] = 0x00
	path := writeRom(t, dir, "unsupported.nes", header)

	res, err := NesRomCheck(path)
	require.NoError(t, err)
	assert.Equal(t, NesRomUnsupported, res.Status)
	assert.Equal(t, 2, res.Mapper)
}

func TestResolveRom_ExplicitPathWins(t *testing.T) {
	path, err := ResolveRom("ignored", "ignored-dir", "/explicit/path.nes")
	require.NoError(t, err)
	assert.Equal(t, "/explicit/path.nes", path)
}

func TestResolveRom_CatalogLookup(t *testing.T) {
	path, err := ResolveRom("mario", "/roms", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/roms", "mario.nes"), path)
}

func TestResolveRom_RequiresRomIDOrPath(t *testing.T) {
	_, err := ResolveRom("", "/roms", "")
	assert.Error(t, err)
}

func TestResolveRom_RequiresDirectoryWhenUsingRomID(t *testing.T) {
	_, err := ResolveRom("mario", "", "")
	assert.Error(t, err)
}
