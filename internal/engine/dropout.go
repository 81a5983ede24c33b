package engine

import (
	"fmt"
	"math/rand"
)

// Dropout zeroes each entry with probability 1-keepProb during training and
// rescales the survivors by 1/keepProb. Outside training only keepProb == 1
// is allowed; dropping units at test time is a configuration mistake and is
// reported, not ignored.
func Dropout(x *Tensor, keepProb float64, isTraining bool) (*Tensor, error) {
	if keepProb <= 0 || keepProb > 1 {
		return nil, fmt.Errorf("keep_prob must be in (0, 1], got %v", keepProb)
	}
	if keepProb == 1 {
		return x, nil
	}
	if !isTraining {
		return nil, fmt.Errorf("keep_prob must be 1 when not training, got %v", keepProb)
	}
	out := New(x.Shape...)
	for i, v := range x.Data {
		if rand.Float64() < keepProb {
			out.Data[i] = v / keepProb
		}
	}
	return out, nil
}
