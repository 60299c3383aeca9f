package dsp

import "math"

// fft computes an in-place iterative radix-2 FFT. len(re) must be a power
// of two and equal to len(im).
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	// bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wRe := math.Cos(ang)
		wIm := math.Sin(ang)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				aRe := re[start+k]
				aIm := im[start+k]
				bRe := re[start+k+half]*curRe - im[start+k+half]*curIm
				bIm := re[start+k+half]*curIm + im[start+k+half]*curRe
				re[start+k] = aRe + bRe
				im[start+k] = aIm + bIm
				re[start+k+half] = aRe - bRe
				im[start+k+half] = aIm - bIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}

// hannWindow returns a Hann window of the given size.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

// isPowerOfTwo reports whether n is a positive power of two.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
