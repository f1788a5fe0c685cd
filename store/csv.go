package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf/sweep"
)

// WriteCSV writes one row per point, with the columns energy, the upper triangle of the transmission matrix, and err.
// All points must have the same number of leads.
func WriteCSV(w io.Writer, points []sweep.Point, numLeads int) error {
	cw := csv.NewWriter(w)

	header := []string{"e"}
	for i := range numLeads {
		for j := i + 1; j < numLeads; j++ {
			header = append(header, fmt.Sprintf("t%d_%d", i, j))
		}
	}
	header = append(header, "err")
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "")
	}

	row := make([]string, len(header))
	for _, pt := range points {
		row = row[:0]
		row = append(row, strconv.FormatFloat(pt.Energy, 'g', -1, 64))
		for i := range numLeads {
			for j := i + 1; j < numLeads; j++ {
				var v string
				if pt.T != nil {
					if r, _ := pt.T.Dims(); r != numLeads {
						return errors.Errorf("%g: %d leads, expected %d", pt.Energy, r, numLeads)
					}
					v = strconv.FormatFloat(pt.T.At(i, j), 'g', -1, 64)
				}
				row = append(row, v)
			}
		}
		var msg string
		if pt.Err != nil {
			msg = pt.Err.Error()
		}
		row = append(row, msg)

		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%g", pt.Energy))
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// ReadCSV reads the points written by WriteCSV.
func ReadCSV(r io.Reader) ([]sweep.Point, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(header) < 2 || header[0] != "e" || header[len(header)-1] != "err" {
		return nil, errors.Errorf("%#v", header)
	}
	numLeads, err := leadsFromHeader(header[1 : len(header)-1])
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	points := make([]sweep.Point, 0)
	for rowI := 1; ; rowI++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", rowI))
		}

		var pt sweep.Point
		pt.Energy, err = strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d %#v", rowI, record))
		}
		if msg := record[len(record)-1]; msg != "" {
			pt.Err = errors.New(msg)
			points = append(points, pt)
			continue
		}

		pt.T = mat.NewDense(max(numLeads, 1), max(numLeads, 1), nil)
		k := 1
		for i := range numLeads {
			for j := i + 1; j < numLeads; j++ {
				v, err := strconv.ParseFloat(record[k], 64)
				if err != nil {
					return nil, errors.Wrap(err, fmt.Sprintf("%d %#v", rowI, record))
				}
				pt.T.Set(i, j, v)
				pt.T.Set(j, i, v)
				k++
			}
		}
		points = append(points, pt)
	}
	return points, nil
}

// leadsFromHeader returns the number of leads n such that there are n(n-1)/2 transmission columns.
func leadsFromHeader(cols []string) (int, error) {
	for _, c := range cols {
		if !strings.HasPrefix(c, "t") {
			return -1, errors.Errorf("%#v", cols)
		}
	}
	for n := 0; n*(n-1)/2 <= len(cols); n++ {
		if n*(n-1)/2 == len(cols) {
			return n, nil
		}
	}
	return -1, errors.Errorf("%d columns", len(cols))
}
