package pipeline

import (
	"errors"
	"testing"
)

func runStages(t *testing.T, original *Frame) *Frame {
	t.Helper()
	classes := mustClassify(t, original)
	synthesized, err := Synthesize(original, classes, newTestRand())
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	sharpened, err := Sharpen(synthesized)
	if err != nil {
		t.Fatalf("sharpen failed: %v", err)
	}
	return sharpened
}

func assertUnitRange(t *testing.T, m Metrics) {
	t.Helper()
	for name, v := range map[string]float64{
		"texture_uniformity":   m.TextureUniformity,
		"edge_preservation":    m.EdgePreservation,
		"contrast_ratio":       m.ContrastRatio,
		"ridge_clarity":        m.RidgeClarity,
		"background_cleanness": m.BackgroundCleanness,
		"overall_score":        m.OverallScore,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s out of range: %f", name, v)
		}
	}
}

func TestScoreBackgroundCleannessIsOneWhenInvariantHolds(t *testing.T) {
	for _, original := range []*Frame{
		checkerFrame(8, 8),
		solidFrame(4, 4, 255, 255, 255, 255),
		solidFrame(4, 4, 0, 0, 0, 255),
	} {
		processed := runStages(t, original)
		m, err := Score(original, processed)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if m.BackgroundCleanness != 1.0 {
			t.Fatalf("expected background cleanness 1.0, got %f", m.BackgroundCleanness)
		}
		assertUnitRange(t, m)
	}
}

func TestScoreDetectsContamination(t *testing.T) {
	original := checkerFrame(4, 4)
	processed := runStages(t, original)

	classes := mustClassify(t, original)
	dirtied := 0
	for i, class := range classes.Classes {
		if class == ClassValley {
			processed.Pix[i*4+1] = 200
			dirtied++
			break
		}
	}
	if dirtied == 0 {
		t.Fatal("test image has no valley pixels")
	}

	m, err := Score(original, processed)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if m.BackgroundCleanness >= 1.0 {
		t.Fatalf("expected cleanness below 1.0, got %f", m.BackgroundCleanness)
	}
}

func TestScoreHighContrastOnCheckerboard(t *testing.T) {
	original := checkerFrame(8, 8)
	processed := runStages(t, original)
	m, err := Score(original, processed)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if m.ContrastRatio < 0.8 {
		t.Fatalf("expected strong ridge/valley contrast, got %f", m.ContrastRatio)
	}
}

func TestScoreEdgeFreeImage(t *testing.T) {
	original := solidFrame(5, 5, 60, 60, 60, 255)
	processed := runStages(t, original)
	m, err := Score(original, processed)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if m.EdgePreservation != 1.0 {
		t.Fatalf("flat image has no edges to lose, got %f", m.EdgePreservation)
	}
	assertUnitRange(t, m)
}

func TestScoreIsDeterministic(t *testing.T) {
	original := checkerFrame(6, 6)
	processed := runStages(t, original)

	a, err := Score(original, processed)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	b, err := Score(original, processed)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if a != b {
		t.Fatalf("same inputs scored differently: %+v vs %+v", a, b)
	}
}

func TestScoreOverallIsMeanOfFive(t *testing.T) {
	original := checkerFrame(8, 8)
	processed := runStages(t, original)
	m, err := Score(original, processed)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	mean := (m.TextureUniformity + m.EdgePreservation + m.ContrastRatio + m.RidgeClarity + m.BackgroundCleanness) / 5
	if diff := m.OverallScore - mean; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("overall %f is not the mean %f", m.OverallScore, mean)
	}
}

func TestScoreRejectsDimensionMismatch(t *testing.T) {
	if _, err := Score(checkerFrame(4, 4), checkerFrame(2, 2)); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
}
