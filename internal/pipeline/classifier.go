package pipeline

import "fmt"

// PixelClass distinguishes ridge pixels (dark fingerprint lines) from valley
// pixels (light background).
type PixelClass uint8

const (
	ClassRidge PixelClass = iota
	ClassValley
)

// RidgeThreshold is the fixed red-channel cutoff on the 0-255 scale. Pixels
// strictly below it classify as ridge. Adaptive thresholding is deliberately
// not used so the same input always classifies the same way.
const RidgeThreshold = 128

// ClassMap holds one PixelClass per pixel of the frame it was derived from.
type ClassMap struct {
	Width   int
	Height  int
	Classes []PixelClass
}

// At returns the class of the pixel at (x, y).
func (m *ClassMap) At(x, y int) PixelClass {
	return m.Classes[y*m.Width+x]
}

// RidgeCount reports how many pixels classified as ridge.
func (m *ClassMap) RidgeCount() int {
	n := 0
	for _, c := range m.Classes {
		if c == ClassRidge {
			n++
		}
	}
	return n
}

// Classify assigns a PixelClass to every pixel of the frame. Classification
// reads only each pixel's own red channel, never its neighbours, so the
// valley-cleanliness guarantee stays checkable pixel by pixel.
func Classify(f *Frame) (*ClassMap, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	m := &ClassMap{
		Width:   f.Width,
		Height:  f.Height,
		Classes: make([]PixelClass, f.Width*f.Height),
	}
	for i := range m.Classes {
		if f.Pix[i*4] < RidgeThreshold {
			m.Classes[i] = ClassRidge
		} else {
			m.Classes[i] = ClassValley
		}
	}
	return m, nil
}

// matches reports whether the class map was derived from a frame of the same
// dimensions.
func (m *ClassMap) matches(f *Frame) error {
	if m == nil || m.Width != f.Width || m.Height != f.Height || len(m.Classes) != f.Width*f.Height {
		return fmt.Errorf("%w: class map does not match frame dimensions", ErrSynthesis)
	}
	return nil
}
