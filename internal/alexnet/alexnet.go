// Package alexnet provides the classic AlexNet convolutional tower in a
// full-size and a reduced variant. The reduced variant keeps the layer
// structure but shrinks channel counts and removes the aggressive strides,
// making it usable on small images such as CIFAR-10.
package alexnet

import (
	"fmt"

	"github.com/freecloud2/convstack/internal/activations"
	"github.com/freecloud2/convstack/internal/convnet"
	"github.com/freecloud2/convstack/internal/engine"
	"github.com/freecloud2/convstack/internal/shape"
)

// Mode selects the network variant.
type Mode string

const (
	// Full is the ImageNet-scale configuration.
	Full Mode = "FULL"
	// Mini is the reduced configuration for small images.
	Mini Mode = "MINI"
)

// poolSpec describes an optional max pooling step after a convolution.
type poolSpec struct {
	size   int
	stride int
}

// convSpec describes one convolutional block of the tower.
type convSpec struct {
	channels int
	kernel   int
	stride   int
	pool     *poolSpec
}

func towerConfig(mode Mode) ([]convSpec, []int, error) {
	switch mode {
	case Full:
		return []convSpec{
			{64, 11, 4, &poolSpec{3, 2}},
			{192, 5, 1, &poolSpec{3, 2}},
			{384, 3, 1, nil},
			{384, 3, 1, nil},
			{256, 3, 1, &poolSpec{3, 2}},
		}, []int{4096, 4096}, nil
	case Mini:
		return []convSpec{
			{48, 3, 1, &poolSpec{3, 1}},
			{128, 5, 1, &poolSpec{3, 1}},
			{192, 3, 1, nil},
			{192, 3, 1, nil},
			{128, 3, 1, &poolSpec{3, 1}},
		}, []int{1024, 1024}, nil
	default:
		return nil, nil, &convnet.ConfigError{
			Msg: fmt.Sprintf("alexnet construction mode %q not recognised", string(mode)),
		}
	}
}

// minInputSize folds the tower from the output back to the input: each step
// inverts a VALID convolution or pooling, so the result is the smallest
// spatial extent that still yields a 1x1 output.
func minInputSize(layers []convSpec) int {
	size := 1
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if l.pool != nil {
			size = (size-1)*l.pool.stride + l.pool.size
		}
		size = (size-1)*l.stride + l.kernel
	}
	return size
}

// Config collects the optional construction parameters of an AlexNet.
type Config struct {
	// UseBatchNorm normalizes each convolution before its activation.
	// Fully connected layers are only normalized when BNOnFCLayers is also
	// set.
	UseBatchNorm    bool
	BNOnFCLayers    bool
	BatchNormConfig *engine.NormConfig

	Initializers convnet.Initializers
	Regularizers convnet.Regularizers
	Partitioners convnet.Partitioners

	CustomGetter engine.Getter

	// Name is the variable scope prefix, "alex_net" when empty.
	Name string
}

// AlexNet is the assembled tower: five convolutional blocks with pooling
// followed by two fully connected layers with dropout.
type AlexNet struct {
	mode  Mode
	scope *engine.Scope

	convs []*engine.Conv2D
	pools []*engine.MaxPool2D
	fcs   []*engine.Linear

	convNorms []engine.Normalizer
	fcNorms   []engine.Normalizer

	minSize   int
	connected bool
}

// New builds an AlexNet in the given mode. An unrecognised mode is a
// ConfigError.
func New(mode Mode, cfg Config) (*AlexNet, error) {
	layers, fcSizes, err := towerConfig(mode)
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "alex_net"
	}
	scope := engine.NewScope(name)
	if cfg.CustomGetter != nil {
		scope.SetGetter(cfg.CustomGetter)
	}

	var normCfg engine.NormConfig
	if cfg.UseBatchNorm {
		normCfg = engine.DefaultBatchNormConfig()
		if cfg.BatchNormConfig != nil {
			normCfg = *cfg.BatchNormConfig
		}
	}

	net := &AlexNet{
		mode:      mode,
		scope:     scope,
		convs:     make([]*engine.Conv2D, len(layers)),
		pools:     make([]*engine.MaxPool2D, len(layers)),
		fcs:       make([]*engine.Linear, len(fcSizes)),
		convNorms: make([]engine.Normalizer, len(layers)),
		fcNorms:   make([]engine.Normalizer, len(fcSizes)),
		minSize:   minInputSize(layers),
	}
	for i, l := range layers {
		net.convs[i] = &engine.Conv2D{
			Scope:       scope.Child(fmt.Sprintf("conv_2d_%d", i)),
			OutChannels: l.channels,
			Kernel:      shape.Square(l.kernel),
			Stride:      shape.Square(l.stride),
			Padding:     shape.Valid,
			UseBias:     true,
			Format:      engine.NHWC,
			WInit:       cfg.Initializers.W,
			BInit:       cfg.Initializers.B,
			WReg:        cfg.Regularizers.W,
			BReg:        cfg.Regularizers.B,
			WPart:       cfg.Partitioners.W,
			BPart:       cfg.Partitioners.B,
		}
		if l.pool != nil {
			net.pools[i] = &engine.MaxPool2D{
				Kernel:  shape.Square(l.pool.size),
				Stride:  shape.Square(l.pool.stride),
				Padding: shape.Valid,
			}
		}
		if cfg.UseBatchNorm {
			net.convNorms[i] = engine.NewBatchNorm(scope.Child(fmt.Sprintf("batch_norm_%d", i)), normCfg)
		}
	}
	for i, size := range fcSizes {
		net.fcs[i] = &engine.Linear{
			Scope:      scope.Child(fmt.Sprintf("linear_%d", i)),
			OutputSize: size,
			UseBias:    true,
			WInit:      cfg.Initializers.W,
			BInit:      cfg.Initializers.B,
			WReg:       cfg.Regularizers.W,
			BReg:       cfg.Regularizers.B,
			WPart:      cfg.Partitioners.W,
			BPart:      cfg.Partitioners.B,
		}
		if cfg.UseBatchNorm && cfg.BNOnFCLayers {
			net.fcNorms[i] = engine.NewBatchNorm(scope.Child(fmt.Sprintf("batch_norm_%d", len(layers)+i)), normCfg)
		}
	}
	return net, nil
}

// NewFull builds the ImageNet-scale variant.
func NewFull(cfg Config) (*AlexNet, error) {
	return New(Full, cfg)
}

// NewMini builds the reduced variant.
func NewMini(cfg Config) (*AlexNet, error) {
	return New(Mini, cfg)
}

// Forward runs the tower with dropout at keepProb on the fully connected
// layers. keepProb must be 1 when isTraining is false.
func (a *AlexNet) Forward(x *engine.Tensor, keepProb float64, isTraining bool) (*engine.Tensor, error) {
	return a.ForwardWithStats(x, keepProb, isTraining, false)
}

// ForwardWithStats is Forward with explicit control over whether batch
// normalization uses batch-local statistics outside training.
func (a *AlexNet) ForwardWithStats(x *engine.Tensor, keepProb float64, isTraining, testLocalStats bool) (*engine.Tensor, error) {
	if x.Rank() != 4 {
		return nil, engine.Shapef("alexnet: input must be rank 4, got %v", x.Shape)
	}
	h, w := x.Shape[1], x.Shape[2]
	if h < a.minSize || w < a.minSize {
		return nil, engine.Shapef("image shape too small: (%d, %d) < %d", h, w, a.minSize)
	}

	relu := activations.ReLU{}
	out := x
	var err error
	for i, conv := range a.convs {
		if out, err = conv.Forward(out); err != nil {
			return nil, err
		}
		if a.convNorms[i] != nil {
			if out, err = a.convNorms[i].Forward(out, isTraining, testLocalStats); err != nil {
				return nil, err
			}
		}
		out = mapTensor(out, relu)
		if a.pools[i] != nil {
			if out, err = a.pools[i].Forward(out); err != nil {
				return nil, err
			}
		}
	}
	for i, fc := range a.fcs {
		if out, err = fc.Forward(out); err != nil {
			return nil, err
		}
		if a.fcNorms[i] != nil {
			if out, err = a.fcNorms[i].Forward(out, isTraining, testLocalStats); err != nil {
				return nil, err
			}
		}
		out = mapTensor(out, relu)
		if out, err = engine.Dropout(out, keepProb, isTraining); err != nil {
			return nil, err
		}
	}
	a.connected = true
	return out, nil
}

func mapTensor(x *engine.Tensor, act activations.Activation) *engine.Tensor {
	out := engine.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = act.Activate(v)
	}
	return out
}

// Mode returns the construction mode.
func (a *AlexNet) Mode() Mode {
	return a.mode
}

// Name returns the net's variable scope name.
func (a *AlexNet) Name() string {
	return a.scope.Name()
}

// Connected reports whether the net has run at least once.
func (a *AlexNet) Connected() bool {
	return a.connected
}

// MinInputSize is the smallest spatial extent the tower accepts.
func (a *AlexNet) MinInputSize() int {
	return a.minSize
}

// ConvModules returns the convolutional layers in order.
func (a *AlexNet) ConvModules() []*engine.Conv2D {
	return a.convs
}

// LinearModules returns the fully connected layers in order.
func (a *AlexNet) LinearModules() []*engine.Linear {
	return a.fcs
}

// GetVariables returns the trainable variables created so far, in creation
// order. Empty before the first Forward.
func (a *AlexNet) GetVariables() []*engine.Variable {
	return a.scope.TrainableVariables()
}

// AllVariables additionally includes the batch-norm moving statistics.
func (a *AlexNet) AllVariables() []*engine.Variable {
	return a.scope.Variables()
}

// RegularizationLosses evaluates every registered variable regularizer.
func (a *AlexNet) RegularizationLosses() []float64 {
	return a.scope.RegularizationLosses()
}
