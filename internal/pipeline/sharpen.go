package pipeline

import (
	"runtime"
	"sync"
)

// sharpenKernel is the fixed 3x3 convolution applied after synthesis.
var sharpenKernel = [3][3]int{
	{0, -1, 0},
	{-1, 5, -1},
	{0, -1, 0},
}

// Sharpen convolves the frame with sharpenKernel per colour channel. Border
// pixels replicate their nearest in-bounds neighbour. Every output pixel
// depends only on the input frame, so rows are processed in parallel.
func Sharpen(f *Frame) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	out := NewFrame(f.Width, f.Height)

	workers := runtime.GOMAXPROCS(0)
	if workers > f.Height {
		workers = f.Height
	}
	rowsPer := (f.Height + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		y0 := w * rowsPer
		y1 := y0 + rowsPer
		if y1 > f.Height {
			y1 = f.Height
		}
		if y0 >= y1 {
			break
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			sharpenRows(f, out, y0, y1)
		}(y0, y1)
	}
	wg.Wait()

	return out, nil
}

func sharpenRows(src, dst *Frame, y0, y1 int) {
	for y := y0; y < y1; y++ {
		for x := 0; x < src.Width; x++ {
			var sums [3]int
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					weight := sharpenKernel[ky+1][kx+1]
					if weight == 0 {
						continue
					}
					sx := clampCoord(x+kx, src.Width)
					sy := clampCoord(y+ky, src.Height)
					o := src.offset(sx, sy)
					sums[0] += weight * int(src.Pix[o])
					sums[1] += weight * int(src.Pix[o+1])
					sums[2] += weight * int(src.Pix[o+2])
				}
			}
			o := dst.offset(x, y)
			dst.Pix[o] = clampByte(sums[0])
			dst.Pix[o+1] = clampByte(sums[1])
			dst.Pix[o+2] = clampByte(sums[2])
			dst.Pix[o+3] = src.Pix[src.offset(x, y)+3]
		}
	}
}

func clampCoord(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v >= limit {
		return limit - 1
	}
	return v
}
