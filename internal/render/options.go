// Package render post-processes colorized overlays: opacity, brightness and
// contrast, resizing, PNG encoding, static composites and legends.
package render

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/flowmap/internal/colormap"
)

const (
	MinOpacity     = 0.1
	MaxEnhancement = 5.0
	MaxImageSide   = 8192
)

// Options are the user controls of one render call.
type Options struct {
	Colormap   string  `json:"colormap"`
	Opacity    float64 `json:"opacity"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	// MaxSize caps the longest image side; 0 keeps one pixel per cell.
	MaxSize int `json:"max_size"`
}

func DefaultOptions() Options {
	return Options{
		Colormap:   colormap.Default,
		Opacity:    0.6,
		Brightness: 1,
		Contrast:   1,
	}
}

func (o Options) Validate() error {
	if _, err := colormap.Lookup(o.Colormap); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"opacity", o.Opacity}, {"brightness", o.Brightness}, {"contrast", o.Contrast}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be a finite number", f.name)
		}
	}
	if o.Opacity < MinOpacity || o.Opacity > 1 {
		return fmt.Errorf("opacity %v outside [%v, 1]", o.Opacity, MinOpacity)
	}
	if o.Brightness < 0 || o.Brightness > MaxEnhancement {
		return fmt.Errorf("brightness %v outside [0, %v]", o.Brightness, MaxEnhancement)
	}
	if o.Contrast < 0 || o.Contrast > MaxEnhancement {
		return fmt.Errorf("contrast %v outside [0, %v]", o.Contrast, MaxEnhancement)
	}
	if o.MaxSize < 0 || o.MaxSize > MaxImageSide {
		return errors.New("max_size must be between 0 and 8192")
	}
	return nil
}
