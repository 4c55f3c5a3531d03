package raster

import "fmt"

// DataError reports a missing or unreadable raster. It wraps the cause, so
// errors.Is(err, fs.ErrNotExist) holds for a missing file.
type DataError struct {
	Path string
	Op   string
	Err  error
}

func (e *DataError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("raster %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("raster %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }
