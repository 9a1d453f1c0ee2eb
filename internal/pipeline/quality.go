package pipeline

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Metrics are the six structural quality scores for a completed run. Every
// field lies in [0, 1].
type Metrics struct {
	TextureUniformity   float64 `json:"texture_uniformity"`
	EdgePreservation    float64 `json:"edge_preservation"`
	ContrastRatio       float64 `json:"contrast_ratio"`
	RidgeClarity        float64 `json:"ridge_clarity"`
	BackgroundCleanness float64 `json:"background_cleanness"`
	OverallScore        float64 `json:"overall_score"`
}

// granulationVariance is the variance of the uniform noise draw on
// [-NoiseHalfWidth, +NoiseHalfWidth]: (n^2 - 1) / 12 for n discrete values.
const granulationVariance = float64((2*NoiseHalfWidth+1)*(2*NoiseHalfWidth+1)-1) / 12

// edgeThreshold is the original-image intensity step treated as an edge when
// measuring edge preservation.
const edgeThreshold = 64

// Score computes the quality metrics from the original and final processed
// frames. It is a pure function of the two frames: no clock, no run metadata,
// no randomness.
func Score(original, processed *Frame) (Metrics, error) {
	if err := original.Validate(); err != nil {
		return Metrics{}, err
	}
	if err := processed.Validate(); err != nil {
		return Metrics{}, err
	}
	if original.Width != processed.Width || original.Height != processed.Height {
		return Metrics{}, fmt.Errorf("%w: original %dx%d vs processed %dx%d",
			ErrSynthesis, original.Width, original.Height, processed.Width, processed.Height)
	}

	classes, err := Classify(original)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		TextureUniformity:   textureUniformity(processed, classes),
		EdgePreservation:    edgePreservation(original, processed),
		ContrastRatio:       contrastRatio(processed, classes),
		RidgeClarity:        ridgeClarity(processed, classes),
		BackgroundCleanness: backgroundCleanness(processed, classes),
	}
	m.OverallScore = (m.TextureUniformity + m.EdgePreservation + m.ContrastRatio +
		m.RidgeClarity + m.BackgroundCleanness) / 5
	return m, nil
}

// backgroundCleanness is the fraction of valley pixels that came out exactly
// pure white. It is 1.0 precisely when the synthesizer invariant held.
func backgroundCleanness(processed *Frame, classes *ClassMap) float64 {
	valleys, clean := 0, 0
	for i, class := range classes.Classes {
		if class != ClassValley {
			continue
		}
		valleys++
		o := i * 4
		if processed.Pix[o] == 255 && processed.Pix[o+1] == 255 && processed.Pix[o+2] == 255 {
			clean++
		}
	}
	if valleys == 0 {
		return 1
	}
	return float64(clean) / float64(valleys)
}

// ridgeClarity compares the spread of post-synthesis ridge intensities to the
// variance the granulation noise is expected to contribute. A spread far off
// the expected band means either flattened or blown-out ridges.
func ridgeClarity(processed *Frame, classes *ClassMap) float64 {
	samples := ridgeSamples(processed, classes)
	if len(samples) < 2 {
		return 1
	}
	variance := stat.Variance(samples, nil)
	return 1 / (1 + absF(variance-granulationVariance)/granulationVariance)
}

// textureUniformity scores how evenly the ridge texture is distributed: a
// small standard deviation of ridge intensities relative to the half scale
// reads as uniform grain.
func textureUniformity(processed *Frame, classes *ClassMap) float64 {
	samples := ridgeSamples(processed, classes)
	if len(samples) < 2 {
		return 1
	}
	sd := stat.StdDev(samples, nil)
	u := 1 - sd/127.5
	return clampUnit(u)
}

// contrastRatio is the normalized gap between mean valley and mean ridge
// output intensity.
func contrastRatio(processed *Frame, classes *ClassMap) float64 {
	var ridge, valley []float64
	for i, class := range classes.Classes {
		v := float64(processed.Pix[i*4])
		if class == ClassRidge {
			ridge = append(ridge, v)
		} else {
			valley = append(valley, v)
		}
	}
	if len(ridge) == 0 || len(valley) == 0 {
		return 1
	}
	gap := (stat.Mean(valley, nil) - stat.Mean(ridge, nil)) / 255
	return clampUnit(gap)
}

// edgePreservation checks that intensity steps present in the original
// survive processing. An original step of at least edgeThreshold counts as
// preserved when the processed pair still differs by at least half of it.
func edgePreservation(original, processed *Frame) float64 {
	edges, kept := 0, 0
	check := func(o1, o2 int) {
		d := absI(int(original.Pix[o1]) - int(original.Pix[o2]))
		if d < edgeThreshold {
			return
		}
		edges++
		if absI(int(processed.Pix[o1])-int(processed.Pix[o2])) >= d/2 {
			kept++
		}
	}
	for y := 0; y < original.Height; y++ {
		for x := 0; x < original.Width; x++ {
			o := original.offset(x, y)
			if x+1 < original.Width {
				check(o, original.offset(x+1, y))
			}
			if y+1 < original.Height {
				check(o, original.offset(x, y+1))
			}
		}
	}
	if edges == 0 {
		return 1
	}
	return float64(kept) / float64(edges)
}

func ridgeSamples(f *Frame, classes *ClassMap) []float64 {
	samples := make([]float64, 0, classes.RidgeCount())
	for i, class := range classes.Classes {
		if class == ClassRidge {
			samples = append(samples, float64(f.Pix[i*4]))
		}
	}
	return samples
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absI(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
