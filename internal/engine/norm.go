package engine

import (
	"math"
)

// NormConfig carries the tunable parts of a normalization layer.
type NormConfig struct {
	// Offset adds a learned per-channel shift (beta).
	Offset bool
	// Scale adds a learned per-channel scale (gamma).
	Scale bool
	// Eps is the variance floor. Zero means the default 1e-5.
	Eps float64
	// Momentum weighs batch statistics into the moving averages during
	// training. Zero means the default 0.1.
	Momentum float64
	// Axis lists the reduction axes for layer normalization. Empty means
	// every non-batch axis.
	Axis []int
}

// DefaultBatchNormConfig mirrors the stock batch-norm setup: learned offset,
// no learned scale.
func DefaultBatchNormConfig() NormConfig {
	return NormConfig{Offset: true, Scale: false}
}

func (c NormConfig) eps() float64 {
	if c.Eps == 0 {
		return 1e-5
	}
	return c.Eps
}

func (c NormConfig) momentum() float64 {
	if c.Momentum == 0 {
		return 0.1
	}
	return c.Momentum
}

// Normalizer is a normalization layer bound to a variable scope.
type Normalizer interface {
	Forward(x *Tensor, isTraining, testLocalStats bool) (*Tensor, error)
}

// NormCtor builds a Normalizer inside the given scope. The stack builders
// call it once per normalized layer.
type NormCtor func(scope *Scope, cfg NormConfig) Normalizer

// BatchNorm normalizes per channel over batch and spatial dimensions,
// keeping moving statistics for inference.
type BatchNorm struct {
	scope *Scope
	cfg   NormConfig

	beta, gamma    *Variable
	movingMean     *Variable
	movingVariance *Variable
	channels       int
}

// NewBatchNorm is the NormCtor for batch normalization.
func NewBatchNorm(scope *Scope, cfg NormConfig) Normalizer {
	return &BatchNorm{scope: scope, cfg: cfg}
}

func (b *BatchNorm) ensureVariables(channels int) error {
	b.channels = channels
	var err error
	if b.cfg.Offset {
		b.beta, err = b.scope.Get("beta", []int{channels}, VarSpec{Initializer: Zeros(), Trainable: true})
		if err != nil {
			return err
		}
	}
	if b.cfg.Scale {
		b.gamma, err = b.scope.Get("gamma", []int{channels}, VarSpec{Initializer: Constant(1), Trainable: true})
		if err != nil {
			return err
		}
	}
	b.movingMean, err = b.scope.Get("moving_mean", []int{channels}, VarSpec{Initializer: Zeros()})
	if err != nil {
		return err
	}
	b.movingVariance, err = b.scope.Get("moving_variance", []int{channels}, VarSpec{Initializer: Constant(1)})
	return err
}

// Forward normalizes an NHWC tensor. Training mode (or testLocalStats) uses
// the statistics of the current batch; otherwise the moving averages apply.
func (b *BatchNorm) Forward(x *Tensor, isTraining, testLocalStats bool) (*Tensor, error) {
	if x.Rank() != 4 {
		return nil, Shapef("batch_norm %s: input must be rank 4, got %v", b.scope.Name(), x.Shape)
	}
	channels := x.Shape[3]
	if err := b.ensureVariables(channels); err != nil {
		return nil, err
	}

	batch, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	count := float64(batch * h * w)

	mean := make([]float64, channels)
	variance := make([]float64, channels)
	useLocal := isTraining || testLocalStats
	if useLocal {
		for n := 0; n < batch; n++ {
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					for c := 0; c < channels; c++ {
						mean[c] += x.At4(n, i, j, c)
					}
				}
			}
		}
		for c := range mean {
			mean[c] /= count
		}
		for n := 0; n < batch; n++ {
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					for c := 0; c < channels; c++ {
						d := x.At4(n, i, j, c) - mean[c]
						variance[c] += d * d
					}
				}
			}
		}
		for c := range variance {
			variance[c] /= count
		}
		if isTraining {
			m := b.cfg.momentum()
			for c := 0; c < channels; c++ {
				b.movingMean.Data[c] = (1-m)*b.movingMean.Data[c] + m*mean[c]
				b.movingVariance.Data[c] = (1-m)*b.movingVariance.Data[c] + m*variance[c]
			}
		}
	} else {
		copy(mean, b.movingMean.Data)
		copy(variance, b.movingVariance.Data)
	}

	eps := b.cfg.eps()
	out := New(x.Shape...)
	for n := 0; n < batch; n++ {
		for i := 0; i < h; i++ {
			for j := 0; j < w; j++ {
				for c := 0; c < channels; c++ {
					norm := (x.At4(n, i, j, c) - mean[c]) / math.Sqrt(variance[c]+eps)
					if b.gamma != nil {
						norm *= b.gamma.Data[c]
					}
					if b.beta != nil {
						norm += b.beta.Data[c]
					}
					out.Set4(n, i, j, c, norm)
				}
			}
		}
	}
	return out, nil
}

// LayerNorm normalizes each sample over the configured axes. With Axis nil
// every non-batch axis is reduced; Axis [1, 2] gives instance normalization.
type LayerNorm struct {
	scope *Scope
	cfg   NormConfig

	beta, gamma *Variable
}

// NewLayerNorm is the NormCtor for layer normalization.
func NewLayerNorm(scope *Scope, cfg NormConfig) Normalizer {
	return &LayerNorm{scope: scope, cfg: cfg}
}

// Forward normalizes an NHWC tensor sample by sample. The isTraining and
// testLocalStats flags are accepted for interface compatibility; layer norm
// keeps no moving statistics.
func (l *LayerNorm) Forward(x *Tensor, isTraining, testLocalStats bool) (*Tensor, error) {
	if x.Rank() != 4 {
		return nil, Shapef("layer_norm %s: input must be rank 4, got %v", l.scope.Name(), x.Shape)
	}
	channels := x.Shape[3]
	var err error
	if l.cfg.Offset && l.beta == nil {
		l.beta, err = l.scope.Get("beta", []int{channels}, VarSpec{Initializer: Zeros(), Trainable: true})
		if err != nil {
			return nil, err
		}
	}
	if l.cfg.Scale && l.gamma == nil {
		l.gamma, err = l.scope.Get("gamma", []int{channels}, VarSpec{Initializer: Constant(1), Trainable: true})
		if err != nil {
			return nil, err
		}
	}

	reduceChannels := true
	if len(l.cfg.Axis) > 0 {
		reduceChannels = false
		for _, a := range l.cfg.Axis {
			if a == 3 {
				reduceChannels = true
			}
		}
	}

	batch, h, w := x.Shape[0], x.Shape[1], x.Shape[2]
	eps := l.cfg.eps()
	out := New(x.Shape...)
	if reduceChannels {
		// One mean/variance per sample over all remaining axes.
		size := float64(h * w * channels)
		for n := 0; n < batch; n++ {
			mean := 0.0
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					for c := 0; c < channels; c++ {
						mean += x.At4(n, i, j, c)
					}
				}
			}
			mean /= size
			variance := 0.0
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					for c := 0; c < channels; c++ {
						d := x.At4(n, i, j, c) - mean
						variance += d * d
					}
				}
			}
			variance /= size
			std := math.Sqrt(variance + eps)
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					for c := 0; c < channels; c++ {
						l.write(out, x, n, i, j, c, mean, std)
					}
				}
			}
		}
		return out, nil
	}

	// Instance normalization: one mean/variance per sample and channel.
	size := float64(h * w)
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			mean := 0.0
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					mean += x.At4(n, i, j, c)
				}
			}
			mean /= size
			variance := 0.0
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					d := x.At4(n, i, j, c) - mean
					variance += d * d
				}
			}
			variance /= size
			std := math.Sqrt(variance + eps)
			for i := 0; i < h; i++ {
				for j := 0; j < w; j++ {
					l.write(out, x, n, i, j, c, mean, std)
				}
			}
		}
	}
	return out, nil
}

func (l *LayerNorm) write(out, x *Tensor, n, i, j, c int, mean, std float64) {
	norm := (x.At4(n, i, j, c) - mean) / std
	if l.gamma != nil {
		norm *= l.gamma.Data[c]
	}
	if l.beta != nil {
		norm += l.beta.Data[c]
	}
	out.Set4(n, i, j, c, norm)
}
