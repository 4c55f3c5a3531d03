package render

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/nfnt/resize"
)

// Apply runs brightness/contrast, opacity and resizing on a copy of img.
func Apply(img image.Image, o Options) *image.NRGBA {
	out := Enhance(img, o.Brightness, o.Contrast)
	ApplyOpacity(out, o.Opacity)
	if o.MaxSize > 0 {
		out = Fit(out, o.MaxSize)
	}
	return out
}

// ApplyOpacity scales the alpha channel in place.
func ApplyOpacity(img *image.NRGBA, opacity float64) {
	if opacity >= 1 {
		return
	}
	opacity = math.Max(0, opacity)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(math.Round(float64(img.Pix[i]) * opacity))
	}
}

// Enhance returns a copy of img with brightness and contrast factors applied
// the way PIL's ImageEnhance does: brightness blends toward black, contrast
// toward the mean luminance of the visible pixels. A factor of 1 is the
// identity. Alpha is preserved.
func Enhance(img image.Image, brightness, contrast float64) *image.NRGBA {
	out := ToNRGBA(img)
	if brightness != 1 {
		for i := 0; i < len(out.Pix); i += 4 {
			for c := 0; c < 3; c++ {
				out.Pix[i+c] = clamp(float64(out.Pix[i+c]) * brightness)
			}
		}
	}
	if contrast != 1 {
		mean := meanLuminance(out)
		for i := 0; i < len(out.Pix); i += 4 {
			for c := 0; c < 3; c++ {
				out.Pix[i+c] = clamp(mean + contrast*(float64(out.Pix[i+c])-mean))
			}
		}
	}
	return out
}

func meanLuminance(img *image.NRGBA) float64 {
	var sum float64
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			continue
		}
		r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
		sum += (r*299 + g*587 + b*114) / 1000
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum / float64(n))
}

func clamp(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// Fit shrinks img so its longest side is at most maxSize.
func Fit(img *image.NRGBA, maxSize int) *image.NRGBA {
	b := img.Bounds()
	if maxSize <= 0 || (b.Dx() <= maxSize && b.Dy() <= maxSize) {
		return img
	}
	return ToNRGBA(resize.Thumbnail(uint(maxSize), uint(maxSize), img, resize.Bilinear))
}

// Upscale enlarges img with nearest-neighbour sampling until its shortest
// side reaches minSide, keeping cells crisp. The longest side never grows
// past MaxImageSide.
func Upscale(img image.Image, minSide int) image.Image {
	b := img.Bounds()
	short, long := min(b.Dx(), b.Dy()), max(b.Dx(), b.Dy())
	if short == 0 || short >= minSide {
		return img
	}
	f := min((minSide+short-1)/short, MaxImageSide/long)
	if f <= 1 {
		return img
	}
	return resize.Resize(uint(b.Dx()*f), uint(b.Dy()*f), img, resize.NearestNeighbor)
}

// ToNRGBA returns a fresh NRGBA copy of img with origin (0,0).
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()*4], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out
	}
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// PNG encodes img into memory.
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeImage reads a PNG or JPEG.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
