// Package reflections reads reflection files and groups reflections into
// resolution bins.
package reflections

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"strconv"
	"strings"

	"mosaicsolvent/internal/models"
)

// ErrUnknownFormat reports a file that is not a CNS reflection file.
var ErrUnknownFormat = errors.New("unknown reflection file format")

// MaxHeaderLines is the number of unparsable lines tolerated before the first
// reflection record.
const MaxHeaderLines = 30

// Observations holds observed amplitudes in file order.
type Observations struct {
	Indices []models.Index
	FObs    []float64
	Sigmas  []float64
}

// Len returns the number of reflections.
func (o *Observations) Len() int { return len(o.Indices) }

// record is one "INDE h k l NAME= a [NAME2=] b" line.
type record struct {
	h      models.Index
	labels [2]string
	values [2]float64
}

// parseRecord splits a CNS record. Missing second labels are left empty.
func parseRecord(line string) (record, bool) {
	flds := strings.Fields(strings.ReplaceAll(line, "=", " "))
	if len(flds) != 7 && len(flds) != 8 {
		return record{}, false
	}
	if key := strings.ToLower(flds[0]); key != "inde" && key != "index" {
		return record{}, false
	}
	var rec record
	for i := 0; i < 3; i++ {
		v, err := strconv.Atoi(flds[1+i])
		if err != nil {
			return record{}, false
		}
		rec.h[i] = v
	}
	rec.labels[0] = strings.ToLower(flds[4])
	v, err := strconv.ParseFloat(flds[5], 64)
	if err != nil {
		return record{}, false
	}
	rec.values[0] = v
	last := flds[6]
	if len(flds) == 8 {
		rec.labels[1] = strings.ToLower(flds[6])
		last = flds[7]
	}
	if rec.values[1], err = strconv.ParseFloat(last, 64); err != nil {
		return record{}, false
	}
	return rec, true
}

// scan feeds every record accepted by keep to fn. A line that is not a
// record is a header line until the first record, then an error; "END"
// terminates the file.
func scan(r io.Reader, keep func(record) bool, fn func(record)) error {
	sc := bufio.NewScanner(r)
	n, haveData := 0, false
	for sc.Scan() {
		n++
		line := sc.Text()
		rec, ok := parseRecord(line)
		if ok && keep(rec) {
			fn(rec)
			haveData = true
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line), "end") {
			break
		}
		if haveData {
			return fmt.Errorf("%w: line %d is not a reflection record", ErrUnknownFormat, n)
		}
		if n >= MaxHeaderLines {
			return fmt.Errorf("%w: no reflection records in the first %d lines", ErrUnknownFormat, MaxHeaderLines)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading reflections: %w", err)
	}
	if !haveData {
		return fmt.Errorf("%w: no reflection records", ErrUnknownFormat)
	}
	return nil
}

// ReadCNS reads "INDE h k l FOBS= f SIGMA= s" records.
func ReadCNS(r io.Reader) (*Observations, error) {
	obs := &Observations{}
	keep := func(rec record) bool {
		return rec.labels[0] == "fobs" && rec.labels[1] == "sigma"
	}
	err := scan(r, keep, func(rec record) {
		obs.Indices = append(obs.Indices, rec.h)
		obs.FObs = append(obs.FObs, rec.values[0])
		obs.Sigmas = append(obs.Sigmas, rec.values[1])
	})
	if err != nil {
		return nil, err
	}
	return obs, nil
}

// ReadCNSComplex reads "INDE h k l LABEL= amplitude phase" records, with the
// phase in degrees, and returns them keyed by index.
func ReadCNSComplex(r io.Reader, label string) (map[models.Index]complex128, error) {
	label = strings.ToLower(label)
	out := make(map[models.Index]complex128)
	keep := func(rec record) bool {
		return rec.labels[0] == label && rec.labels[1] == ""
	}
	err := scan(r, keep, func(rec record) {
		out[rec.h] = cmplx.Rect(rec.values[0], rec.values[1]*math.Pi/180)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Align orders values by indices. Friedel mates are accepted for missing
// indices, with the conjugate value. Any index absent from values is an
// error.
func Align(indices []models.Index, values map[models.Index]complex128) ([]complex128, error) {
	out := make([]complex128, len(indices))
	for i, h := range indices {
		if v, ok := values[h]; ok {
			out[i] = v
			continue
		}
		if v, ok := values[h.Negate()]; ok {
			out[i] = cmplx.Conj(v)
			continue
		}
		return nil, fmt.Errorf("reflection %v has no calculated value", h)
	}
	return out, nil
}

// WriteCNSComplex writes "INDE h k l LABEL= amplitude phase" records with the
// phase in degrees, in the order of indices.
func WriteCNSComplex(w io.Writer, label string, indices []models.Index, values []complex128) error {
	if len(indices) != len(values) {
		return fmt.Errorf("%d indices but %d values", len(indices), len(values))
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, " NREFlection=%d\n", len(indices))
	label = strings.ToUpper(label)
	for i, h := range indices {
		amp, phi := cmplx.Polar(values[i])
		fmt.Fprintf(bw, " INDE %d %d %d %s= %.4f %.3f\n", h[0], h[1], h[2], label, amp, phi*180/math.Pi)
	}
	fmt.Fprintln(bw, "END")
	return bw.Flush()
}
