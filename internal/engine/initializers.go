package engine

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TruncatedNormal returns an initializer drawing from a normal distribution
// with the given standard deviation, redrawing samples that fall more than
// two standard deviations from the mean.
func TruncatedNormal(stddev float64) Initializer {
	return func(shape []int) []float64 {
		dist := distuv.Normal{
			Mu:    0,
			Sigma: stddev,
		}
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float64, n)
		for i := range data {
			x := dist.Rand()
			for math.Abs(x) > 2*stddev {
				x = dist.Rand()
			}
			data[i] = x
		}
		return data
	}
}

// Constant returns an initializer filling the variable with a single value.
func Constant(v float64) Initializer {
	return func(shape []int) []float64 {
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float64, n)
		for i := range data {
			data[i] = v
		}
		return data
	}
}

// Zeros initializes a variable with zeros.
func Zeros() Initializer {
	return Constant(0)
}

// HeNormal returns the initializer used by default for convolution weights:
// a truncated normal scaled by sqrt(2 / fanIn), after He et al.
func HeNormal(fanIn int) Initializer {
	return TruncatedNormal(math.Sqrt(2.0 / float64(fanIn)))
}
