// Package indicator turns daily bar series into trend classifications.
package indicator

import (
	"errors"
	"math"
)

// SMMA computes Wilder's smoothed moving average aligned with values.
// The first defined output sits at index length-1 and is the simple mean of the
// first length inputs; every later output is (prev*(length-1)+x)/length.
// Entries before that are NaN.
func SMMA(values []float64, length int) ([]float64, error) {
	if length < 1 {
		return nil, errors.New("smma length must be positive")
	}
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(values) < length {
		return out, nil
	}

	sum := 0.0
	for _, v := range values[:length] {
		sum += v
	}
	prev := sum / float64(length)
	out[length-1] = prev

	for i := length; i < len(values); i++ {
		prev = (prev*float64(length-1) + values[i]) / float64(length)
		out[i] = prev
	}
	return out, nil
}

