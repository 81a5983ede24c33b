package convnet

import (
	"github.com/freecloud2/convstack/internal/activations"
	"github.com/freecloud2/convstack/internal/engine"
	"github.com/freecloud2/convstack/internal/shape"
)

// Dim2 and Padding are re-exported from the shape package so callers only
// deal with one vocabulary.
type (
	Dim2    = shape.Dim2
	Padding = shape.Padding
)

const (
	Same  = shape.Same
	Valid = shape.Valid
)

// Square returns a square Dim2, the scalar form of a kernel or stride.
func Square(k int) Dim2 {
	return shape.Square(k)
}

// Initializers holds the per-parameter initializers of a layer stack. The
// allowed parameter set is fixed: w (weights) and b (biases).
type Initializers struct {
	W engine.Initializer
	B engine.Initializer
}

// Regularizers holds the per-parameter regularizers, keyed like Initializers.
type Regularizers struct {
	W engine.Regularizer
	B engine.Regularizer
}

// Partitioners holds the per-parameter variable partitioners.
type Partitioners struct {
	W engine.Partitioner
	B engine.Partitioner
}

// Config collects the construction parameters of a convolutional stack.
// KernelShapes, Strides, Paddings, Rates and UseBias broadcast: a slice of
// length 1 applies to every layer, otherwise the length must equal the
// number of layers (the length of OutputChannels).
type Config struct {
	// OutputChannels is required and determines the number of layers.
	OutputChannels []int

	// OutputShapes are the target spatial shapes of a ConvNet2DTranspose,
	// broadcast like the other per-layer parameters. Only that variant
	// uses it; NewConvNet2D rejects a non-nil value.
	OutputShapes []Dim2

	KernelShapes []Dim2
	Strides      []Dim2
	Paddings     []Padding

	// Rates are dilation rates; nil means 1 everywhere.
	Rates []Dim2

	// UseBias defaults to true for every layer.
	UseBias []bool

	// Activation is applied after every layer except the final one, and
	// after the final one too when ActivateFinal is set. Nil means ReLU.
	Activation    activations.Activation
	ActivateFinal bool

	// UseBatchNorm inserts batch normalization between each convolution
	// and its activation. Mutually exclusive with NormalizationCtor.
	UseBatchNorm    bool
	BatchNormConfig *engine.NormConfig

	// NormalizationCtor selects an arbitrary normalization layer instead
	// of batch norm; NormalizationKwargs configures it.
	NormalizationCtor   engine.NormCtor
	NormalizationKwargs engine.NormConfig

	// NormalizeFinal controls normalization of the final layer. Nil means
	// follow ActivateFinal.
	NormalizeFinal *bool

	Initializers Initializers
	Regularizers Regularizers
	Partitioners Partitioners

	// DataFormat defaults to NHWC.
	DataFormat engine.DataFormat

	// CustomGetter intercepts every variable the stack creates.
	CustomGetter engine.Getter

	// Name is the variable scope prefix.
	Name string
}

// broadcastDim2 resolves a scalar-or-per-layer Dim2 parameter to exactly n
// entries.
func broadcastDim2(param string, vals []Dim2, n int) ([]Dim2, error) {
	switch len(vals) {
	case n:
		return append([]Dim2(nil), vals...), nil
	case 1:
		out := make([]Dim2, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	default:
		return nil, &LengthError{Param: param, Got: len(vals), Want: n}
	}
}

func broadcastPaddings(param string, vals []Padding, n int) ([]Padding, error) {
	for _, p := range vals {
		if !p.IsValid() {
			return nil, configf("invalid padding %q: must be %s or %s", string(p), Same, Valid)
		}
	}
	switch len(vals) {
	case n:
		return append([]Padding(nil), vals...), nil
	case 1:
		out := make([]Padding, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	default:
		return nil, &LengthError{Param: param, Got: len(vals), Want: n}
	}
}

func broadcastBools(param string, vals []bool, n int) ([]bool, error) {
	switch len(vals) {
	case n:
		return append([]bool(nil), vals...), nil
	case 1:
		out := make([]bool, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	default:
		return nil, &LengthError{Param: param, Got: len(vals), Want: n}
	}
}

func broadcastInts(param string, vals []int, n int) ([]int, error) {
	switch len(vals) {
	case n:
		return append([]int(nil), vals...), nil
	case 1:
		out := make([]int, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	default:
		return nil, &LengthError{Param: param, Got: len(vals), Want: n}
	}
}

// resolved holds one stack's configuration after broadcasting and
// validation; every slice has exactly one entry per layer.
type resolved struct {
	n              int
	name           string
	outputChannels []int
	kernelShapes   []Dim2
	strides        []Dim2
	rates          []Dim2
	paddings       []Padding
	useBias        []bool
	activation     activations.Activation
	activateFinal  bool
	useBatchNorm   bool
	normCtor       engine.NormCtor
	normCfg        engine.NormConfig
	normalizeFinal bool
	initializers   Initializers
	regularizers   Regularizers
	partitioners   Partitioners
	format         engine.DataFormat
	getter         engine.Getter
}

// resolveConfig validates cfg and broadcasts every per-layer parameter to n
// entries. OutputChannels may be nil when the caller resolves channel counts
// lazily (transpose derivation); otherwise its length must be exactly n.
// defaultName is used when cfg.Name is empty.
func resolveConfig(cfg Config, n int, defaultName string) (*resolved, error) {
	if cfg.OutputChannels != nil && len(cfg.OutputChannels) != n {
		return nil, configf("output_channels length must match the number of layers (%d), got %d", n, len(cfg.OutputChannels))
	}
	for _, c := range cfg.OutputChannels {
		if c <= 0 {
			return nil, configf("output_channels must be positive, got %d", c)
		}
	}

	r := &resolved{
		n:              n,
		name:           cfg.Name,
		outputChannels: append([]int(nil), cfg.OutputChannels...),
		activation:     cfg.Activation,
		activateFinal:  cfg.ActivateFinal,
		useBatchNorm:   cfg.UseBatchNorm,
		initializers:   cfg.Initializers,
		regularizers:   cfg.Regularizers,
		partitioners:   cfg.Partitioners,
		format:         cfg.DataFormat,
		getter:         cfg.CustomGetter,
	}
	if r.name == "" {
		r.name = defaultName
	}
	if r.activation == nil {
		r.activation = activations.ReLU{}
	}
	if r.format == "" {
		r.format = engine.NHWC
	}
	if !r.format.IsValid() {
		return nil, configf("invalid data_format %q: must be %s or %s", string(r.format), engine.NHWC, engine.NCHW)
	}

	var err error
	if r.kernelShapes, err = broadcastDim2("kernel_shapes", cfg.KernelShapes, n); err != nil {
		return nil, err
	}
	if r.strides, err = broadcastDim2("strides", cfg.Strides, n); err != nil {
		return nil, err
	}
	rates := cfg.Rates
	if rates == nil {
		rates = []Dim2{{H: 1, W: 1}}
	}
	if r.rates, err = broadcastDim2("rates", rates, n); err != nil {
		return nil, err
	}
	if r.paddings, err = broadcastPaddings("paddings", cfg.Paddings, n); err != nil {
		return nil, err
	}
	useBias := cfg.UseBias
	if useBias == nil {
		useBias = []bool{true}
	}
	if r.useBias, err = broadcastBools("use_bias", useBias, n); err != nil {
		return nil, err
	}
	for i := range r.kernelShapes {
		if r.kernelShapes[i].H <= 0 || r.kernelShapes[i].W <= 0 {
			return nil, configf("kernel_shapes must be positive, got %v", r.kernelShapes[i])
		}
		if r.strides[i].H <= 0 || r.strides[i].W <= 0 {
			return nil, configf("strides must be positive, got %v", r.strides[i])
		}
		if r.rates[i].H <= 0 || r.rates[i].W <= 0 {
			return nil, configf("rates must be positive, got %v", r.rates[i])
		}
	}

	switch {
	case cfg.UseBatchNorm && cfg.NormalizationCtor != nil:
		return nil, configf("cannot set normalization_ctor if use_batch_norm is specified")
	case cfg.UseBatchNorm:
		r.normCtor = engine.NewBatchNorm
		if cfg.BatchNormConfig != nil {
			r.normCfg = *cfg.BatchNormConfig
		} else {
			r.normCfg = engine.DefaultBatchNormConfig()
		}
	case cfg.NormalizationCtor != nil:
		r.normCtor = cfg.NormalizationCtor
		r.normCfg = cfg.NormalizationKwargs
	}

	r.normalizeFinal = cfg.ActivateFinal
	if cfg.NormalizeFinal != nil {
		r.normalizeFinal = *cfg.NormalizeFinal
	}
	return r, nil
}

// numLayers is the layer count of a resolved configuration.
func (r *resolved) numLayers() int {
	return r.n
}

// normalized reports whether layer i gets a normalization step.
func (r *resolved) normalized(i int) bool {
	if r.normCtor == nil {
		return false
	}
	if i == r.numLayers()-1 {
		return r.normalizeFinal
	}
	return true
}

// activated reports whether layer i gets an activation step.
func (r *resolved) activated(i int) bool {
	if i == r.numLayers()-1 {
		return r.activateFinal
	}
	return true
}
