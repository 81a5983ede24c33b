package convstack

import (
	"github.com/freecloud2/convstack/internal/activations"
	"github.com/freecloud2/convstack/internal/alexnet"
	"github.com/freecloud2/convstack/internal/convnet"
	"github.com/freecloud2/convstack/internal/engine"
)

// Re-export common types and functions for easier access
type (
	Config          = convnet.Config
	TransposeConfig = convnet.TransposeConfig
	Initializers    = convnet.Initializers
	Regularizers    = convnet.Regularizers
	Partitioners    = convnet.Partitioners

	Dim2    = convnet.Dim2
	Padding = convnet.Padding

	AlexNet       = alexnet.AlexNet
	AlexNetMode   = alexnet.Mode
	AlexNetConfig = alexnet.Config

	Tensor      = engine.Tensor
	DataFormat  = engine.DataFormat
	Variable    = engine.Variable
	NormConfig  = engine.NormConfig
	Initializer = engine.Initializer
	Regularizer = engine.Regularizer
	Partitioner = engine.Partitioner
	Getter      = engine.Getter
	Activation  = activations.Activation

	ConfigError            = convnet.ConfigError
	LengthError            = convnet.LengthError
	ShapeError             = engine.ShapeError
	NotConnectedError      = engine.NotConnectedError
	UnsupportedLayoutError = engine.UnsupportedLayoutError
)

const (
	Same  = convnet.Same
	Valid = convnet.Valid

	NHWC = engine.NHWC
	NCHW = engine.NCHW

	AlexNetFull = alexnet.Full
	AlexNetMini = alexnet.Mini
)

// Networks
func NewConvNet2D(cfg Config) (*convnet.ConvNet2D, error) {
	return convnet.NewConvNet2D(cfg)
}

func NewConvNet2DTranspose(cfg Config) (*convnet.ConvNet2DTranspose, error) {
	return convnet.NewConvNet2DTranspose(cfg)
}

func NewAlexNet(mode alexnet.Mode, cfg alexnet.Config) (*alexnet.AlexNet, error) {
	return alexnet.New(mode, cfg)
}

func NewAlexNetFull(cfg alexnet.Config) (*alexnet.AlexNet, error) {
	return alexnet.NewFull(cfg)
}

func NewAlexNetMini(cfg alexnet.Config) (*alexnet.AlexNet, error) {
	return alexnet.NewMini(cfg)
}

// Square returns a square kernel or stride.
func Square(k int) Dim2 {
	return convnet.Square(k)
}

// NewTensor allocates a zero tensor with the given shape.
func NewTensor(dims ...int) *Tensor {
	return engine.New(dims...)
}

// Ones allocates a tensor filled with 1.
func Ones(dims ...int) *Tensor {
	return engine.Ones(dims...)
}

// Activations
var (
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
	Linear  = activations.Linear{}
)

func LeakyReLU(alpha float64) activations.Activation {
	return activations.NewLeakyReLU(alpha)
}

// Initializers
func TruncatedNormal(stddev float64) Initializer {
	return engine.TruncatedNormal(stddev)
}

func Constant(v float64) Initializer {
	return engine.Constant(v)
}

func Zeros() Initializer {
	return engine.Zeros()
}

// Regularizers
func L1(scale float64) Regularizer {
	return engine.L1(scale)
}

func L2(scale float64) Regularizer {
	return engine.L2(scale)
}

// Partitioners
func FixedSizePartitioner(numShards int) Partitioner {
	return engine.FixedSizePartitioner(numShards)
}

// StopGradient marks every variable it sees as non-trainable.
func StopGradient(v *Variable) *Variable {
	return engine.StopGradient(v)
}

// Normalization constructors usable as Config.NormalizationCtor.
var (
	BatchNorm = engine.NewBatchNorm
	LayerNorm = engine.NewLayerNorm
)

// DefaultBatchNormConfig returns the offset-only batch norm configuration.
func DefaultBatchNormConfig() NormConfig {
	return engine.DefaultBatchNormConfig()
}
