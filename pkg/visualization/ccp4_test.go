package visualization

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

func TestCCP4RoundTrip(t *testing.T) {
	g, err := models.NewGrid(3, 4, 5)
	require.NoError(t, err)
	cell, err := crystal.NewUnitCell(30, 40, 50, 90, 100, 90)
	require.NoError(t, err)
	m := &Map{Grid: g, Cell: cell, SpaceGroupNumber: 4, Data: make([]float64, g.Size()), Label: "region 1"}
	for i := range m.Data {
		m.Data[i] = float64(i%7) - 2.5
	}

	path := filepath.Join(t.TempDir(), "region_1.ccp4")
	require.NoError(t, WriteCCP4(path, m))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024+4*g.Size()), info.Size())

	got, err := ReadCCP4(path)
	require.NoError(t, err)
	assert.Equal(t, g, got.Grid)
	assert.Equal(t, 4, got.SpaceGroupNumber)
	assert.Equal(t, "region 1", got.Label)
	assert.InDelta(t, 100, got.Cell.Beta, 1e-5)
	assert.InDelta(t, 40, got.Cell.B, 1e-5)
	require.Len(t, got.Data, len(m.Data))
	for i := range m.Data {
		assert.InDelta(t, m.Data[i], got.Data[i], 1e-6)
	}
}

func TestReadCCP4RejectsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.map")
	require.NoError(t, os.WriteFile(short, []byte("hello"), 0o644))
	_, err := ReadCCP4(short)
	assert.ErrorIs(t, err, ErrNotCCP4)

	blank := filepath.Join(dir, "blank.map")
	require.NoError(t, os.WriteFile(blank, make([]byte, 2048), 0o644))
	_, err = ReadCCP4(blank)
	assert.ErrorIs(t, err, ErrNotCCP4)
}

func TestWriteCCP4RejectsMismatch(t *testing.T) {
	g, err := models.NewGrid(2, 2, 2)
	require.NoError(t, err)
	err = WriteCCP4(filepath.Join(t.TempDir(), "x.map"), &Map{Grid: g, Data: make([]float64, 3)})
	assert.Error(t, err)
}
