package raster

import (
	"compress/gzip"
	"fmt"
	"os"
	"strings"
)

// Open reads a raster file, choosing the reader from the file extension.
// crsOverride, when set, replaces the CRS found in the file.
func Open(path string, crsOverride string) (*FlowRaster, error) {
	r, err := open(path)
	if err != nil {
		return nil, &DataError{Path: path, Op: "read", Err: err}
	}
	if crsOverride != "" {
		r.CRS = crsOverride
	}
	if err := r.Validate(); err != nil {
		return nil, &DataError{Path: path, Op: "validate", Err: err}
	}
	return r, nil
}

func open(path string) (*FlowRaster, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return ReadGeoTIFF(data)

	case strings.HasSuffix(lower, ".asc.gz"):
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return ReadASCIIGrid(gz)

	case strings.HasSuffix(lower, ".asc"):
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return ReadASCIIGrid(file)

	default:
		return nil, fmt.Errorf("unsupported raster format %q", path)
	}
}
