package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// MinimumWindow is the smallest sample window pitch detection accepts
	MinimumWindow = 256

	// MinPitchHz and MaxPitchHz bound the valid fundamental frequency
	// range for human speech
	MinPitchHz = 50.0
	MaxPitchHz = 500.0

	// voicingThreshold is the fraction of the zero-lag autocorrelation a
	// candidate peak must exceed to count as voiced
	voicingThreshold = 0.30
)

// DetectPitch estimates the fundamental frequency of the sample window in Hz.
// It returns 0 when the window is too short, the signal is unvoiced, or the
// winning candidate falls outside the valid speech range.
func DetectPitch(samples []float64, sampleRate int) float64 {
	if len(samples) < MinimumWindow || sampleRate <= 0 {
		return 0
	}

	r := autocorrelate(samples)

	energy := r[0]
	if energy <= 0 {
		return 0
	}

	minLag := sampleRate / int(MaxPitchHz)
	maxLag := sampleRate / int(MinPitchHz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(samples) {
		maxLag = len(samples) - 1
	}
	if minLag > maxLag {
		return 0
	}

	bestLag := 0
	bestValue := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		if r[lag] > bestValue {
			bestValue = r[lag]
			bestLag = lag
		}
	}

	if bestLag == 0 || bestValue < voicingThreshold*energy {
		return 0
	}

	frequency := float64(sampleRate) / float64(bestLag)
	if frequency < MinPitchHz || frequency > MaxPitchHz {
		return 0
	}

	return frequency
}

// autocorrelate computes the linear autocorrelation of the signal via a
// zero-padded FFT. r[lag] = sum(x[i]*x[i+lag]) for each lag in [0, n).
func autocorrelate(samples []float64) []float64 {
	n := len(samples)

	// Zero-pad to at least 2n so the circular convolution of the FFT
	// matches the linear autocorrelation for all lags below n.
	padded := make([]float64, nextPowerOfTwo(2*n))
	copy(padded, samples)

	spectrum := fft.FFTReal(padded)
	for i, c := range spectrum {
		spectrum[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}

	inverse := fft.IFFT(spectrum)

	r := make([]float64, n)
	for i := range r {
		r[i] = real(inverse[i])
	}
	return r
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// RMS computes the root-mean-square amplitude of the sample window
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the maximum absolute amplitude of the sample window
func Peak(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// Decibels converts a linear amplitude to dBFS. Silence maps to -100 dB
// rather than negative infinity.
func Decibels(amplitude float64) float64 {
	if amplitude <= 0 {
		return -100
	}

	db := 20 * math.Log10(amplitude)
	if db < -100 {
		return -100
	}
	return db
}
