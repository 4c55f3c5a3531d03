package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// TIFF and GeoTIFF tags read by ReadGeoTIFF.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

const (
	geoKeyRasterType    = 1025
	geoKeyGeographicCRS = 2048
	geoKeyProjectedCRS  = 3072
	rasterPixelIsPoint  = 2
	userDefinedGeoKey   = 32767
)

const (
	compressionNone         = 1
	compressionDeflate      = 8
	compressionDeflateAdobe = 32946
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   []byte
}

type tiffFile struct {
	buf     []byte
	bo      binary.ByteOrder
	entries map[uint16]ifdEntry
}

var typeSizes = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// ReadGeoTIFF decodes the first band of a classic (non-BigTIFF) GeoTIFF.
func ReadGeoTIFF(data []byte) (*FlowRaster, error) {
	tf, err := parseTIFF(data)
	if err != nil {
		return nil, err
	}

	width := int(tf.uint(tagImageWidth, 0))
	height := int(tf.uint(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("tiff: invalid dimensions %dx%d", width, height)
	}
	if spp := tf.uint(tagSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("tiff: %d samples per pixel, only single band rasters are supported", spp)
	}

	dec, err := newSampleDecoder(tf)
	if err != nil {
		return nil, err
	}

	values := make([]float64, width*height)
	if _, tiled := tf.entries[tagTileOffsets]; tiled {
		err = tf.readTiles(dec, width, height, values)
	} else {
		err = tf.readStrips(dec, width, height, values)
	}
	if err != nil {
		return nil, err
	}

	t, err := tf.transform()
	if err != nil {
		return nil, err
	}

	r := &FlowRaster{
		Rows:      height,
		Cols:      width,
		Data:      values,
		Transform: t,
		CRS:       tf.crs(),
	}
	if e, ok := tf.entries[tagGDALNoData]; ok {
		s := strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
		if nd, err := strconv.ParseFloat(s, 64); err == nil {
			r.NoData = &nd
		}
	}
	r.Normalize()
	return r, nil
}

func parseTIFF(data []byte) (*tiffFile, error) {
	if len(data) < 8 {
		return nil, errors.New("tiff: file too short")
	}
	tf := &tiffFile{buf: data, entries: map[uint16]ifdEntry{}}
	switch string(data[:2]) {
	case "II":
		tf.bo = binary.LittleEndian
	case "MM":
		tf.bo = binary.BigEndian
	default:
		return nil, errors.New("tiff: bad byte order marker")
	}
	switch magic := tf.bo.Uint16(data[2:4]); magic {
	case 42:
	case 43:
		return nil, errors.New("tiff: BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("tiff: bad magic %d", magic)
	}

	off := int(tf.bo.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, errors.New("tiff: IFD offset out of range")
	}
	n := int(tf.bo.Uint16(data[off:]))
	base := off + 2
	if base+n*12 > len(data) {
		return nil, errors.New("tiff: IFD truncated")
	}
	for i := range n {
		p := data[base+i*12 : base+(i+1)*12]
		e := ifdEntry{
			tag:   tf.bo.Uint16(p[0:2]),
			typ:   tf.bo.Uint16(p[2:4]),
			count: tf.bo.Uint32(p[4:8]),
		}
		size, ok := typeSizes[e.typ]
		if !ok {
			continue
		}
		total := size * int(e.count)
		if total <= 4 {
			e.raw = p[8 : 8+total]
		} else {
			vo := int(tf.bo.Uint32(p[8:12]))
			if vo < 0 || vo+total > len(data) {
				return nil, fmt.Errorf("tiff: tag %d value out of range", e.tag)
			}
			e.raw = data[vo : vo+total]
		}
		tf.entries[e.tag] = e
	}
	return tf, nil
}

func (tf *tiffFile) uints(tag uint16) []uint64 {
	e, ok := tf.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		switch e.typ {
		case 1, 7:
			out = append(out, uint64(e.raw[i]))
		case 3:
			out = append(out, uint64(tf.bo.Uint16(e.raw[i*2:])))
		case 4:
			out = append(out, uint64(tf.bo.Uint32(e.raw[i*4:])))
		default:
			return nil
		}
	}
	return out
}

func (tf *tiffFile) uint(tag uint16, def uint64) uint64 {
	if v := tf.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (tf *tiffFile) doubles(tag uint16) []float64 {
	e, ok := tf.entries[tag]
	if !ok || e.typ != 12 {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(tf.bo.Uint64(e.raw[i*8:]))
	}
	return out
}

func (tf *tiffFile) transform() (Transform, error) {
	var t Transform
	if m := tf.doubles(tagModelTransform); len(m) >= 8 {
		t = Transform{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else {
		scale := tf.doubles(tagModelPixelScale)
		tie := tf.doubles(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 {
			return t, errors.New("tiff: no georeferencing tags")
		}
		t = Transform{
			A: scale[0],
			C: tie[3] - tie[0]*scale[0],
			E: -scale[1],
			F: tie[4] + tie[1]*scale[1],
		}
	}
	if tf.geoKeys()[geoKeyRasterType] == rasterPixelIsPoint {
		t.C -= t.A / 2
		t.F -= t.E / 2
	}
	return t, nil
}

func (tf *tiffFile) geoKeys() map[uint16]uint64 {
	dir := tf.uints(tagGeoKeyDirectory)
	out := map[uint16]uint64{}
	if len(dir) < 4 {
		return out
	}
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4:]
		// only inline short values are relevant here
		if k[1] == 0 {
			out[uint16(k[0])] = k[3]
		}
	}
	return out
}

func (tf *tiffFile) crs() string {
	keys := tf.geoKeys()
	for _, k := range []uint16{geoKeyProjectedCRS, geoKeyGeographicCRS} {
		if code, ok := keys[k]; ok && code != 0 && code != userDefinedGeoKey {
			return fmt.Sprintf("EPSG:%d", code)
		}
	}
	return ""
}

func (tf *tiffFile) block(offset, count uint64, compression uint64, want int) ([]byte, error) {
	end := offset + count
	if end > uint64(len(tf.buf)) {
		return nil, errors.New("tiff: data block out of range")
	}
	raw := tf.buf[offset:end]
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionDeflate, compressionDeflateAdobe:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("tiff: deflate: %w", err)
		}
		defer zr.Close()
		out := make([]byte, want)
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("tiff: deflate: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tiff: compression %d is not supported", compression)
	}
}

func (tf *tiffFile) readStrips(dec *sampleDecoder, width, height int, dst []float64) error {
	offsets := tf.uints(tagStripOffsets)
	counts := tf.uints(tagStripByteCounts)
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return errors.New("tiff: missing or inconsistent strip tags")
	}
	rps := int(tf.uint(tagRowsPerStrip, uint64(height)))
	if rps <= 0 || rps > height {
		rps = height
	}
	compression := tf.uint(tagCompression, compressionNone)

	for i := range offsets {
		row0 := i * rps
		if row0 >= height {
			break
		}
		rows := min(rps, height-row0)
		want := rows * width * dec.size
		b, err := tf.block(offsets[i], counts[i], compression, want)
		if err != nil {
			return err
		}
		if len(b) < want {
			return fmt.Errorf("tiff: strip %d has %d bytes, want %d", i, len(b), want)
		}
		if err := dec.unpredict(b[:want], width); err != nil {
			return err
		}
		for j := range rows * width {
			dst[row0*width+j] = dec.at(b, j)
		}
	}
	return nil
}

func (tf *tiffFile) readTiles(dec *sampleDecoder, width, height int, dst []float64) error {
	tw := int(tf.uint(tagTileWidth, 0))
	th := int(tf.uint(tagTileLength, 0))
	offsets := tf.uints(tagTileOffsets)
	counts := tf.uints(tagTileByteCounts)
	if tw <= 0 || th <= 0 || len(offsets) != len(counts) {
		return errors.New("tiff: missing or inconsistent tile tags")
	}
	across := (width + tw - 1) / tw
	down := (height + th - 1) / th
	if len(offsets) < across*down {
		return fmt.Errorf("tiff: %d tiles, want %d", len(offsets), across*down)
	}
	compression := tf.uint(tagCompression, compressionNone)
	want := tw * th * dec.size

	for i := 0; i < across*down; i++ {
		b, err := tf.block(offsets[i], counts[i], compression, want)
		if err != nil {
			return err
		}
		if len(b) < want {
			return fmt.Errorf("tiff: tile %d has %d bytes, want %d", i, len(b), want)
		}
		if err := dec.unpredict(b[:want], tw); err != nil {
			return err
		}
		x0, y0 := (i%across)*tw, (i/across)*th
		for y := 0; y < th && y0+y < height; y++ {
			for x := 0; x < tw && x0+x < width; x++ {
				dst[(y0+y)*width+x0+x] = dec.at(b, y*tw+x)
			}
		}
	}
	return nil
}

type sampleDecoder struct {
	bo        binary.ByteOrder
	size      int
	format    uint64
	predictor uint64
}

func newSampleDecoder(tf *tiffFile) (*sampleDecoder, error) {
	bits := tf.uint(tagBitsPerSample, 1)
	d := &sampleDecoder{
		bo:        tf.bo,
		size:      int(bits / 8),
		format:    tf.uint(tagSampleFormat, 1),
		predictor: tf.uint(tagPredictor, 1),
	}
	switch {
	case d.format == 3 && (bits == 32 || bits == 64):
	case (d.format == 1 || d.format == 2) && (bits == 8 || bits == 16 || bits == 32 || bits == 64):
	default:
		return nil, fmt.Errorf("tiff: sample format %d with %d bits is not supported", d.format, bits)
	}
	if d.predictor != 1 && d.predictor != 2 {
		return nil, fmt.Errorf("tiff: predictor %d is not supported", d.predictor)
	}
	if d.predictor == 2 && d.format == 3 {
		return nil, errors.New("tiff: horizontal predictor on floating point samples is not supported")
	}
	return d, nil
}

// unpredict reverses horizontal differencing in place.
func (d *sampleDecoder) unpredict(b []byte, rowLen int) error {
	if d.predictor != 2 {
		return nil
	}
	stride := rowLen * d.size
	if stride == 0 || len(b)%stride != 0 {
		return errors.New("tiff: block is not a whole number of rows")
	}
	for row := 0; row < len(b); row += stride {
		r := b[row : row+stride]
		for i := d.size; i < len(r); i += d.size {
			switch d.size {
			case 1:
				r[i] += r[i-1]
			case 2:
				d.bo.PutUint16(r[i:], d.bo.Uint16(r[i:])+d.bo.Uint16(r[i-2:]))
			case 4:
				d.bo.PutUint32(r[i:], d.bo.Uint32(r[i:])+d.bo.Uint32(r[i-4:]))
			case 8:
				d.bo.PutUint64(r[i:], d.bo.Uint64(r[i:])+d.bo.Uint64(r[i-8:]))
			}
		}
	}
	return nil
}

func (d *sampleDecoder) at(b []byte, i int) float64 {
	p := b[i*d.size:]
	switch d.format {
	case 3:
		if d.size == 4 {
			return float64(math.Float32frombits(d.bo.Uint32(p)))
		}
		return math.Float64frombits(d.bo.Uint64(p))
	case 2:
		switch d.size {
		case 1:
			return float64(int8(p[0]))
		case 2:
			return float64(int16(d.bo.Uint16(p)))
		case 4:
			return float64(int32(d.bo.Uint32(p)))
		default:
			return float64(int64(d.bo.Uint64(p)))
		}
	default:
		switch d.size {
		case 1:
			return float64(p[0])
		case 2:
			return float64(d.bo.Uint16(p))
		case 4:
			return float64(d.bo.Uint32(p))
		default:
			return float64(d.bo.Uint64(p))
		}
	}
}
