package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Frame is an RGBA raster with value semantics. Each stage consumes a Frame
// and returns a new one; no stage mutates its input.
type Frame struct {
	Width  int
	Height int
	// Pix holds 4 bytes per pixel in R, G, B, A order, row-major.
	Pix []byte
}

// NewFrame allocates a zeroed frame of the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*4),
	}
}

// Validate checks the frame dimensions and channel layout.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidImage)
	}
	if f.Width < 1 || f.Height < 1 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height*4 {
		return fmt.Errorf("%w: pixel buffer length %d, want %d", ErrInvalidImage, len(f.Pix), f.Width*f.Height*4)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.Width, f.Height)
	copy(out.Pix, f.Pix)
	return out
}

func (f *Frame) offset(x, y int) int {
	return (y*f.Width + x) * 4
}

// Decode reads a PNG or JPEG stream into a Frame.
func Decode(r io.Reader) (*Frame, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return FromImage(img), nil
}

// DecodeBytes reads an encoded image buffer into a Frame.
func DecodeBytes(data []byte) (*Frame, error) {
	return Decode(bytes.NewReader(data))
}

// FromImage converts any image.Image into a Frame.
func FromImage(img image.Image) *Frame {
	nrgba := imaging.Clone(img)
	f := NewFrame(nrgba.Rect.Dx(), nrgba.Rect.Dy())
	for y := 0; y < f.Height; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+f.Width*4]
		copy(f.Pix[y*f.Width*4:], src)
	}
	return f
}

// ToImage converts the frame back to a standard image for encoding.
func (f *Frame) ToImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+f.Width*4], f.Pix[y*f.Width*4:(y+1)*f.Width*4])
	}
	return img
}

// EncodePNG renders the frame as a PNG buffer.
func (f *Frame) EncodePNG() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, f.ToImage(), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
