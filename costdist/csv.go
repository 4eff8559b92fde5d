// SPDX-License-Identifier: MIT

package costdist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ErrMissingColumn indicates a required CSV column is absent.
var ErrMissingColumn = errors.New("costdist: missing required column")

// ReadCSV parses a target cost distribution with a header row containing
// min, max and trips, and optionally ave_km. Rows are sorted by min.
func ReadCSV(r io.Reader) (*Distribution, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("costdist: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"min", "max", "trips"} {
		if _, ok := col[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}
	aveIdx, hasAve := col["ave_km"]

	var bands []Band
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("costdist: line %d: %w", line, err)
		}
		var b Band
		if b.Min, err = parseField(rec, col["min"]); err != nil {
			return nil, fmt.Errorf("costdist: line %d min: %w", line, err)
		}
		if b.Max, err = parseField(rec, col["max"]); err != nil {
			return nil, fmt.Errorf("costdist: line %d max: %w", line, err)
		}
		if b.Trips, err = parseField(rec, col["trips"]); err != nil {
			return nil, fmt.Errorf("costdist: line %d trips: %w", line, err)
		}
		if hasAve {
			if b.AveCost, err = parseField(rec, aveIdx); err != nil {
				return nil, fmt.Errorf("costdist: line %d ave_km: %w", line, err)
			}
		}
		bands = append(bands, b)
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].Min < bands[j].Min })

	return NewDistribution(bands)
}

// parseField reads a float; an empty cell parses as 0.
func parseField(rec []string, idx int) (float64, error) {
	if idx >= len(rec) {
		return 0, nil
	}
	s := strings.TrimSpace(rec[idx])
	if s == "" {
		return 0, nil
	}

	return strconv.ParseFloat(s, 64)
}

// WriteCSV writes d with the min, max, trips, ave_km, band_share columns.
func WriteCSV(w io.Writer, d *Distribution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"min", "max", "trips", "ave_km", "band_share"}); err != nil {
		return err
	}
	shares := d.BandShares()
	for i, b := range d.bands {
		rec := []string{
			strconv.FormatFloat(b.Min, 'g', -1, 64),
			strconv.FormatFloat(b.Max, 'g', -1, 64),
			strconv.FormatFloat(b.Trips, 'g', -1, 64),
			strconv.FormatFloat(b.AveCost, 'g', -1, 64),
			strconv.FormatFloat(shares[i], 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()

	return cw.Error()
}
