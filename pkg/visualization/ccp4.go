// Package visualization writes real-space grids as crystallographic maps and
// renders region label volumes as slice images.
package visualization

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mosaicsolvent/internal/models"
	"mosaicsolvent/pkg/crystal"
)

// ErrNotCCP4 reports a file without the CCP4 "MAP " stamp.
var ErrNotCCP4 = errors.New("not a CCP4 map")

// Map is a full-cell real-space grid with its crystal context.
type Map struct {
	Grid             models.Grid
	Cell             crystal.UnitCell
	SpaceGroupNumber int
	Data             []float64
	Label            string
}

// ccp4Header is the fixed 1024-byte header of a mode-2 map.
type ccp4Header struct {
	NC, NR, NS                int32
	Mode                      int32
	NCStart, NRStart, NSStart int32
	NX, NY, NZ                int32
	Cell                      [6]float32
	MapC, MapR, MapS          int32
	AMin, AMax, AMean         float32
	ISPG                      int32
	NSymBT                    int32
	Extra                     [25]int32
	Origin                    [3]float32
	Stamp                     [4]byte
	MachSt                    [4]byte
	RMS                       float32
	NLabl                     int32
	Labels                    [10][80]byte
}

var (
	stamp         = [4]byte{'M', 'A', 'P', ' '}
	littleEndianM = [4]byte{0x44, 0x44, 0, 0}
	bigEndianM    = [4]byte{0x11, 0x11, 0, 0}
)

// WriteCCP4 writes m as a little-endian mode-2 CCP4 map at path.
func WriteCCP4(path string, m *Map) error {
	if len(m.Data) != m.Grid.Size() {
		return fmt.Errorf("map has %d points, grid has %d", len(m.Data), m.Grid.Size())
	}
	if m.Grid.Size() == 0 {
		return errors.New("cannot write an empty map")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create map file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := encodeCCP4(w, m); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func encodeCCP4(w io.Writer, m *Map) error {
	mean, sd := stat.PopMeanStdDev(m.Data, nil)
	h := ccp4Header{
		NC: int32(m.Grid.NX), NR: int32(m.Grid.NY), NS: int32(m.Grid.NZ),
		Mode: 2,
		NX:   int32(m.Grid.NX), NY: int32(m.Grid.NY), NZ: int32(m.Grid.NZ),
		Cell: [6]float32{
			float32(m.Cell.A), float32(m.Cell.B), float32(m.Cell.C),
			float32(m.Cell.Alpha), float32(m.Cell.Beta), float32(m.Cell.Gamma),
		},
		MapC: 1, MapR: 2, MapS: 3,
		AMin:   float32(floats.Min(m.Data)),
		AMax:   float32(floats.Max(m.Data)),
		AMean:  float32(mean),
		ISPG:   int32(m.SpaceGroupNumber),
		Stamp:  stamp,
		MachSt: littleEndianM,
		RMS:    float32(sd),
	}
	if m.Label != "" {
		h.NLabl = 1
		copy(h.Labels[0][:], m.Label)
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	buf := make([]float32, len(m.Data))
	for i, v := range m.Data {
		buf[i] = float32(v)
	}
	return binary.Write(w, binary.LittleEndian, buf)
}

// ReadCCP4 reads a mode-2 map with columns, rows and sections along x, y and
// z. Symmetry records are skipped.
func ReadCCP4(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open map file: %w", err)
	}
	defer f.Close()
	return decodeCCP4(bufio.NewReader(f))
}

func decodeCCP4(r io.Reader) (*Map, error) {
	raw := make([]byte, binary.Size(ccp4Header{}))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrNotCCP4, err)
	}
	var h ccp4Header
	var order binary.ByteOrder = binary.LittleEndian
	if raw[212] == bigEndianM[0] {
		order = binary.BigEndian
	}
	if _, err := binary.Decode(raw, order, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCCP4, err)
	}
	if h.Stamp != stamp {
		return nil, ErrNotCCP4
	}
	if h.Mode != 2 {
		return nil, fmt.Errorf("unsupported map mode %d", h.Mode)
	}
	if h.MapC != 1 || h.MapR != 2 || h.MapS != 3 {
		return nil, fmt.Errorf("unsupported axis order %d,%d,%d", h.MapC, h.MapR, h.MapS)
	}
	g, err := models.NewGrid(int(h.NC), int(h.NR), int(h.NS))
	if err != nil {
		return nil, fmt.Errorf("bad map dimensions: %w", err)
	}
	if h.NSymBT > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(h.NSymBT)); err != nil {
			return nil, fmt.Errorf("short symmetry block: %w", err)
		}
	}
	buf := make([]float32, g.Size())
	if err := binary.Read(r, order, buf); err != nil {
		return nil, fmt.Errorf("short map data: %w", err)
	}

	m := &Map{Grid: g, SpaceGroupNumber: int(h.ISPG), Data: make([]float64, len(buf))}
	for i, v := range buf {
		m.Data[i] = float64(v)
	}
	m.Cell = crystal.UnitCell{
		A: float64(h.Cell[0]), B: float64(h.Cell[1]), C: float64(h.Cell[2]),
		Alpha: float64(h.Cell[3]), Beta: float64(h.Cell[4]), Gamma: float64(h.Cell[5]),
	}
	if h.NLabl > 0 {
		m.Label = trimLabel(h.Labels[0][:])
	}
	return m, nil
}

func trimLabel(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ') {
		end--
	}
	return string(b[:end])
}
