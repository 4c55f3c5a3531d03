package raster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var asciiHeaders = []string{"NCOLS", "NROWS", "XLLCENTER", "XLLCORNER", "YLLCENTER", "YLLCORNER", "CELLSIZE", "NODATA_VALUE"}

type asciiHeader struct {
	ncols, nrows     int
	x, y             float64
	xCenter, yCenter bool
	cellSize         float64
	noData           *float64
	seen             map[string]bool
}

// ReadASCIIGrid parses an ESRI ASCII grid. Values may wrap across lines.
func ReadASCIIGrid(reader io.Reader) (*FlowRaster, error) {
	h := asciiHeader{seen: map[string]bool{}}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)

	var data []float64
	want := 0
	header := true

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		keyword := strings.ToUpper(fields[0])
		if header && contains(asciiHeaders, keyword) {
			if err := h.parseLine(fields); err != nil {
				return nil, err
			}
			continue
		}

		if header {
			// first data line
			if err := h.complete(); err != nil {
				return nil, err
			}
			header = false
			want = h.nrows * h.ncols
			data = make([]float64, 0, want)
		}

		for _, f := range fields {
			if len(data) == want {
				break
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", len(data), err)
			}
			data = append(data, v)
		}
		if len(data) == want {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if header {
		return nil, errors.New("grid has no data rows")
	}
	if len(data) < want {
		return nil, fmt.Errorf("grid has %d cells, header declares %d", len(data), want)
	}

	left, bottom := h.x, h.y
	if h.xCenter {
		left -= h.cellSize / 2
	}
	if h.yCenter {
		bottom -= h.cellSize / 2
	}

	r := &FlowRaster{
		Rows: h.nrows,
		Cols: h.ncols,
		Data: data,
		Transform: Transform{
			A: h.cellSize,
			C: left,
			E: -h.cellSize,
			F: bottom + float64(h.nrows)*h.cellSize,
		},
		NoData: h.noData,
	}
	r.Normalize()
	return r, nil
}

func (h *asciiHeader) parseLine(fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("header line %q must have exactly two fields", strings.Join(fields, " "))
	}
	key := strings.ToUpper(fields[0])
	if h.seen[key] {
		return fmt.Errorf("duplicate header %s", key)
	}
	h.seen[key] = true

	switch key {
	case "NCOLS", "NROWS":
		n, err := strconv.ParseUint(fields[1], 10, 31)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%s must be greater than 0", key)
		}
		if key == "NCOLS" {
			h.ncols = int(n)
		} else {
			h.nrows = int(n)
		}
		return nil
	}

	f, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	switch key {
	case "XLLCENTER", "XLLCORNER":
		h.x, h.xCenter = f, key == "XLLCENTER"
	case "YLLCENTER", "YLLCORNER":
		h.y, h.yCenter = f, key == "YLLCENTER"
	case "CELLSIZE":
		if f <= 0 {
			return errors.New("CELLSIZE must be greater than 0")
		}
		h.cellSize = f
	case "NODATA_VALUE":
		h.noData = &f
	}
	return nil
}

func (h *asciiHeader) complete() error {
	// there can either be corner or center not both
	if h.seen["XLLCENTER"] && h.seen["XLLCORNER"] || h.seen["YLLCENTER"] && h.seen["YLLCORNER"] {
		return errors.New("grid header mixes corner and center origins")
	}
	for _, k := range []string{"NCOLS", "NROWS", "CELLSIZE"} {
		if !h.seen[k] {
			return fmt.Errorf("grid header is missing %s", k)
		}
	}
	if !h.seen["XLLCENTER"] && !h.seen["XLLCORNER"] {
		return errors.New("grid header is missing XLLCORNER/XLLCENTER")
	}
	if !h.seen["YLLCENTER"] && !h.seen["YLLCORNER"] {
		return errors.New("grid header is missing YLLCORNER/YLLCENTER")
	}
	return nil
}

func contains(array []string, element string) bool {
	for _, cur := range array {
		if cur == element {
			return true
		}
	}
	return false
}
