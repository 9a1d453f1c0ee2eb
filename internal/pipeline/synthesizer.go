package pipeline

import (
	"math/rand"
)

// NoiseHalfWidth bounds the additive granulation noise: each ridge pixel is
// perturbed by a uniform draw from [-NoiseHalfWidth, +NoiseHalfWidth].
const NoiseHalfWidth = 20

// Synthesize produces the granulated frame. Ridge pixels receive achromatic
// noise around their original red intensity; valley pixels are forced to pure
// white. Alpha passes through untouched.
//
// The rng is owned by the caller and seeded per run, never a process-global
// source, so a fixed seed reproduces the output exactly.
func Synthesize(f *Frame, classes *ClassMap, rng *rand.Rand) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := classes.matches(f); err != nil {
		return nil, err
	}

	out := NewFrame(f.Width, f.Height)
	for i, class := range classes.Classes {
		o := i * 4
		switch class {
		case ClassValley:
			out.Pix[o] = 255
			out.Pix[o+1] = 255
			out.Pix[o+2] = 255
		case ClassRidge:
			noise := rng.Intn(2*NoiseHalfWidth+1) - NoiseHalfWidth
			v := clampByte(int(f.Pix[o]) + noise)
			out.Pix[o] = v
			out.Pix[o+1] = v
			out.Pix[o+2] = v
		}
		out.Pix[o+3] = f.Pix[o+3]
	}
	return out, nil
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
