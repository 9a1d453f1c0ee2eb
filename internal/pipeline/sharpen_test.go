package pipeline

import (
	"bytes"
	"errors"
	"testing"
)

func TestSharpenUniformImageIsUnchanged(t *testing.T) {
	// The kernel sums to 1, so a flat region maps to itself.
	f := solidFrame(5, 5, 100, 100, 100, 255)
	out, err := Sharpen(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out.Pix, f.Pix) {
		t.Fatal("uniform image changed under sharpening")
	}
}

func TestSharpenIsNotIdempotent(t *testing.T) {
	// A horizontal ramp is invariant in the interior but perturbed at the
	// replicated borders; the perturbation then walks inward on each pass.
	f := NewFrame(6, 6)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			o := f.offset(x, y)
			v := byte(100 + 10*x)
			f.Pix[o], f.Pix[o+1], f.Pix[o+2], f.Pix[o+3] = v, v, v, 255
		}
	}

	once, err := Sharpen(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := Sharpen(once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(once.Pix, twice.Pix) {
		t.Fatal("re-applying the kernel was a no-op on a non-uniform image")
	}
}

func TestSharpenKeepsValleyPixelsWhite(t *testing.T) {
	// A white center minus at most four neighbours still clamps to 255, so
	// sharpening cannot contaminate a cleaned valley.
	f := checkerFrame(8, 8)
	classes := mustClassify(t, f)
	synthesized, err := Synthesize(f, classes, newTestRand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := Sharpen(synthesized)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, class := range classes.Classes {
		if class != ClassValley {
			continue
		}
		o := i * 4
		if out.Pix[o] != 255 || out.Pix[o+1] != 255 || out.Pix[o+2] != 255 {
			t.Fatalf("valley pixel %d no longer white after sharpening", i)
		}
	}
}

func TestSharpenPreservesDimensionsAndAlpha(t *testing.T) {
	f := checkerFrame(3, 7)
	for i := 3; i < len(f.Pix); i += 4 {
		f.Pix[i] = byte(i % 251)
	}
	out, err := Sharpen(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Width != f.Width || out.Height != f.Height {
		t.Fatalf("dimensions changed: %dx%d -> %dx%d", f.Width, f.Height, out.Width, out.Height)
	}
	for i := 3; i < len(f.Pix); i += 4 {
		if out.Pix[i] != f.Pix[i] {
			t.Fatalf("alpha changed at byte %d", i)
		}
	}
}

func TestSharpenSinglePixel(t *testing.T) {
	// Border replication on a 1x1 image means every neighbour is the pixel
	// itself.
	f := solidFrame(1, 1, 42, 42, 42, 255)
	out, err := Sharpen(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Pix[0] != 42 {
		t.Fatalf("expected 42, got %d", out.Pix[0])
	}
}

func TestSharpenRejectsInvalidFrame(t *testing.T) {
	if _, err := Sharpen(&Frame{Width: 2, Height: 2, Pix: make([]byte, 3)}); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}
