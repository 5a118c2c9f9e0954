package payload

import (
	"image"
	"image/color"

	"github.com/banshee-data/fusion.record/internal/blockio"
)

// BytesPerPixel is fixed: images are stored as packed RGB24.
const BytesPerPixel = 3

// Image is a row-major RGB24 frame. It implements image.Image so it can be
// handed straight to an encoder or a plotting canvas.
type Image struct {
	Width     int
	Height    int
	Pix       []byte
	Timestamp Timestamp
}

// NewImage allocates a black image.
func NewImage(width, height int, ts Timestamp) *Image {
	return &Image{
		Width:     width,
		Height:    height,
		Pix:       make([]byte, width*height*BytesPerPixel),
		Timestamp: ts,
	}
}

// ImageFrom copies any image.Image into RGB24, dropping alpha.
func ImageFrom(src image.Image, ts Timestamp) *Image {
	b := src.Bounds()
	img := NewImage(b.Dx(), b.Dy(), ts)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			img.SetRGB(x, y, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return img
}

func (im *Image) ColorModel() color.Model { return color.RGBAModel }

func (im *Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.Width, im.Height) }

func (im *Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(im.Bounds()) {
		return color.RGBA{}
	}
	i := im.offset(x, y)
	return color.RGBA{R: im.Pix[i], G: im.Pix[i+1], B: im.Pix[i+2], A: 0xff}
}

// SetRGB writes one pixel. Out-of-bounds writes are ignored.
func (im *Image) SetRGB(x, y int, r, g, b uint8) {
	if !(image.Point{X: x, Y: y}).In(im.Bounds()) {
		return
	}
	i := im.offset(x, y)
	im.Pix[i], im.Pix[i+1], im.Pix[i+2] = r, g, b
}

func (im *Image) offset(x, y int) int {
	return (y*im.Width + x) * BytesPerPixel
}

// Encode returns block(pixels) followed by block(timestamp).
func (im *Image) Encode() []byte {
	dst := make([]byte, 0, 2*blockio.LengthSize+len(im.Pix)+20)
	dst = blockio.AppendBlock(dst, im.Pix)
	return im.Timestamp.appendBlock(dst)
}

// DecodeImage reverses Encode. The shape is not stored with the pixels, so the
// caller supplies it from the camera information.
func DecodeImage(b []byte, width, height int) (*Image, error) {
	c := blockio.NewCursor(b)
	pix, err := c.Next()
	if err != nil {
		return nil, blockio.Malformed("image", "pixel block", err)
	}
	tsBytes, err := c.Next()
	if err != nil {
		return nil, blockio.Malformed("image", "timestamp block", err)
	}
	if !c.Done() {
		return nil, blockio.Malformed("image", "trailing data after timestamp", nil)
	}
	if width < 0 || height < 0 {
		return nil, &blockio.SchemaMismatchError{Payload: "image", Actual: len(pix),
			Detail: "negative shape"}
	}
	if want := width * height * BytesPerPixel; len(pix) != want {
		return nil, &blockio.SchemaMismatchError{Payload: "image", Expected: want, Actual: len(pix),
			Detail: "buffer does not match width*height*3"}
	}
	ts, err := decodeTimestampBlock(tsBytes)
	if err != nil {
		return nil, blockio.Malformed("image", "timestamp", err)
	}
	return &Image{
		Width:     width,
		Height:    height,
		Pix:       append([]byte(nil), pix...),
		Timestamp: ts,
	}, nil
}

func appendString(dst []byte, s string) []byte {
	return blockio.AppendBlock(dst, []byte(s))
}
