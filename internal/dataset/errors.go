package dataset

import "fmt"

// Stage names a step of the load and render pipeline.
type Stage string

const (
	StageDownload     Stage = "download"
	StageLoadRaster   Stage = "load_raster"
	StageLoadBoundary Stage = "load_boundary"
	StageNormalize    Stage = "normalize"
	StageRender       Stage = "render"
)

// StageError attributes a failure to the pipeline stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: s, Err: err}
}
