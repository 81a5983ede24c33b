package convnet

import (
	"fmt"

	"github.com/freecloud2/convstack/internal/activations"
	"github.com/freecloud2/convstack/internal/engine"
)

// ConvNet2DTranspose is an ordered stack of transposed 2D convolutions.
// Unlike ConvNet2D it carries explicit target output shapes per layer.
type ConvNet2DTranspose struct {
	res   *resolved
	scope *engine.Scope

	outputShapes []Dim2

	layers []*engine.ConvTranspose2D
	norms  []engine.Normalizer

	// resolver lazily supplies per-layer output channels and target shapes
	// when the net was derived by transposing a ConvNet2D. Nil for
	// user-built nets.
	resolver func() ([]int, []Dim2, error)

	inputShape []int
	connected  bool
}

// NewConvNet2DTranspose builds a transposed convolutional stack from cfg.
// cfg.OutputShapes is required and broadcasts like the other parameters.
func NewConvNet2DTranspose(cfg Config) (*ConvNet2DTranspose, error) {
	if len(cfg.OutputChannels) == 0 {
		return nil, configf("output_channels must not be empty")
	}
	if cfg.Rates != nil {
		return nil, configf("dilation rates are not supported by transposed convolutions")
	}
	n := len(cfg.OutputChannels)
	outputShapes, err := broadcastDim2("output_shapes", cfg.OutputShapes, n)
	if err != nil {
		return nil, err
	}
	for _, s := range outputShapes {
		if s.H <= 0 || s.W <= 0 {
			return nil, configf("output_shapes must be positive, got %v", s)
		}
	}
	res, err := resolveConfig(cfg, n, "conv_net_2d_transpose")
	if err != nil {
		return nil, err
	}
	net := &ConvNet2DTranspose{res: res, outputShapes: outputShapes}
	if err := net.build(); err != nil {
		return nil, err
	}
	return net, nil
}

func (t *ConvNet2DTranspose) build() error {
	if t.layers != nil {
		return nil
	}
	if t.resolver != nil {
		channels, shapes, err := t.resolver()
		if err != nil {
			return err
		}
		if t.res.outputChannels == nil {
			t.res.outputChannels = channels
		}
		t.outputShapes = shapes
	}
	t.scope = engine.NewScope(t.res.name)
	if t.res.getter != nil {
		t.scope.SetGetter(t.res.getter)
	}
	t.layers = make([]*engine.ConvTranspose2D, t.res.numLayers())
	t.norms = make([]engine.Normalizer, t.res.numLayers())
	for i := range t.layers {
		t.layers[i] = &engine.ConvTranspose2D{
			Scope:       t.scope.Child(fmt.Sprintf("conv_2d_transpose_%d", i)),
			OutChannels: t.res.outputChannels[i],
			OutShape:    t.outputShapes[i],
			Kernel:      t.res.kernelShapes[i],
			Stride:      t.res.strides[i],
			Padding:     t.res.paddings[i],
			UseBias:     t.res.useBias[i],
			Format:      t.res.format,
			WInit:       t.res.initializers.W,
			BInit:       t.res.initializers.B,
			WReg:        t.res.regularizers.W,
			BReg:        t.res.regularizers.B,
			WPart:       t.res.partitioners.W,
			BPart:       t.res.partitioners.B,
		}
		if t.res.normalized(i) {
			t.norms[i] = t.res.normCtor(t.scope.Child(fmt.Sprintf("batch_norm_%d", i)), t.res.normCfg)
		}
	}
	return nil
}

// Forward connects the net (on first call) and runs the stack over x.
// For a net derived by Transpose this fails with a NotConnectedError while
// the source net's shapes are still unresolved.
func (t *ConvNet2DTranspose) Forward(x *engine.Tensor, isTraining bool) (*engine.Tensor, error) {
	return t.ForwardWithStats(x, isTraining, false)
}

// ForwardWithStats is Forward with explicit control over whether
// normalization uses batch-local statistics outside training.
func (t *ConvNet2DTranspose) ForwardWithStats(x *engine.Tensor, isTraining, testLocalStats bool) (*engine.Tensor, error) {
	if err := t.build(); err != nil {
		return nil, err
	}
	h := x
	var err error
	for i, layer := range t.layers {
		if h, err = layer.Forward(h); err != nil {
			return nil, err
		}
		if t.norms[i] != nil {
			if h, err = t.norms[i].Forward(h, isTraining, testLocalStats); err != nil {
				return nil, err
			}
		}
		if t.res.activated(i) {
			h = activate(h, t.res.activation)
		}
	}
	if !t.connected {
		t.inputShape = append([]int(nil), x.Shape...)
		t.connected = true
	}
	return h, nil
}

// Name returns the net's variable scope name.
func (t *ConvNet2DTranspose) Name() string {
	return t.res.name
}

// Connected reports whether the net has been bound to an input shape.
func (t *ConvNet2DTranspose) Connected() bool {
	return t.connected
}

// InputShape returns the full input shape, nil before connection.
func (t *ConvNet2DTranspose) InputShape() []int {
	return t.inputShape
}

// Layers returns the per-layer engine descriptors. Nil while a derived
// net's shapes are unresolved.
func (t *ConvNet2DTranspose) Layers() []*engine.ConvTranspose2D {
	return t.layers
}

// OutputChannels returns the per-layer output channel counts, nil while a
// derived net's channels are unresolved.
func (t *ConvNet2DTranspose) OutputChannels() []int {
	return t.res.outputChannels
}

// OutputShapes returns the per-layer target spatial shapes, nil while a
// derived net's shapes are unresolved.
func (t *ConvNet2DTranspose) OutputShapes() []Dim2 {
	return t.outputShapes
}

// KernelShapes returns the per-layer kernel shapes.
func (t *ConvNet2DTranspose) KernelShapes() []Dim2 {
	return t.res.kernelShapes
}

// Strides returns the per-layer strides.
func (t *ConvNet2DTranspose) Strides() []Dim2 {
	return t.res.strides
}

// Paddings returns the per-layer padding modes.
func (t *ConvNet2DTranspose) Paddings() []Padding {
	return t.res.paddings
}

// UseBias returns the per-layer bias flags.
func (t *ConvNet2DTranspose) UseBias() []bool {
	return t.res.useBias
}

// ActivateFinal reports whether the final layer is activated.
func (t *ConvNet2DTranspose) ActivateFinal() bool {
	return t.res.activateFinal
}

// Activation returns the activation applied between layers.
func (t *ConvNet2DTranspose) Activation() activations.Activation {
	return t.res.activation
}

// UseBatchNorm reports whether the stack normalizes with batch norm.
func (t *ConvNet2DTranspose) UseBatchNorm() bool {
	return t.res.useBatchNorm
}

// DataFormat returns the configured tensor layout.
func (t *ConvNet2DTranspose) DataFormat() engine.DataFormat {
	return t.res.format
}

// GetVariables returns the trainable variables created so far.
func (t *ConvNet2DTranspose) GetVariables() []*engine.Variable {
	if t.scope == nil {
		return nil
	}
	return t.scope.TrainableVariables()
}

// AllVariables additionally includes non-trainable variables.
func (t *ConvNet2DTranspose) AllVariables() []*engine.Variable {
	if t.scope == nil {
		return nil
	}
	return t.scope.Variables()
}

// RegularizationLosses evaluates every variable regularizer registered by
// the net's layers.
func (t *ConvNet2DTranspose) RegularizationLosses() []float64 {
	if t.scope == nil {
		return nil
	}
	return t.scope.RegularizationLosses()
}

// TransposeConfig overrides selected parameters of a derived net. Nil or
// zero fields inherit: kernel shapes, strides, paddings and bias flags are
// inherited reversed; activation, normalization and the w/b hooks are
// inherited as they are. The custom getter is never inherited.
type TransposeConfig struct {
	Name string

	// OutputChannels overrides the derived channel counts; its length must
	// match the layer count exactly.
	OutputChannels []int

	KernelShapes []Dim2
	Strides      []Dim2
	Paddings     []Padding
	UseBias      []bool

	Activation    activations.Activation
	ActivateFinal *bool

	NormalizationCtor   engine.NormCtor
	NormalizationKwargs *engine.NormConfig
	BatchNormConfig     *engine.NormConfig
	NormalizeFinal      *bool

	Initializers *Initializers
	Regularizers *Regularizers
	Partitioners *Partitioners

	CustomGetter engine.Getter
}

func reverseDim2(xs []Dim2) []Dim2 {
	out := make([]Dim2, len(xs))
	for i, x := range xs {
		out[len(xs)-1-i] = x
	}
	return out
}

func reversePaddings(xs []Padding) []Padding {
	out := make([]Padding, len(xs))
	for i, x := range xs {
		out[len(xs)-1-i] = x
	}
	return out
}

func reverseBools(xs []bool) []bool {
	out := make([]bool, len(xs))
	for i, x := range xs {
		out[len(xs)-1-i] = x
	}
	return out
}

// transposedConfig assembles the Config of a mirrored net from a source
// configuration and the caller's overrides.
func transposedConfig(src *resolved, opts *TransposeConfig, defaultName string) Config {
	cfg := Config{
		Name:           opts.Name,
		OutputChannels: opts.OutputChannels,
		KernelShapes:   opts.KernelShapes,
		Strides:        opts.Strides,
		Paddings:       opts.Paddings,
		UseBias:        opts.UseBias,
		Activation:     opts.Activation,
		ActivateFinal:  src.activateFinal,
		DataFormat:     src.format,
		CustomGetter:   opts.CustomGetter,
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.KernelShapes == nil {
		cfg.KernelShapes = reverseDim2(src.kernelShapes)
	}
	if cfg.Strides == nil {
		cfg.Strides = reverseDim2(src.strides)
	}
	if cfg.Paddings == nil {
		cfg.Paddings = reversePaddings(src.paddings)
	}
	if cfg.UseBias == nil {
		cfg.UseBias = reverseBools(src.useBias)
	}
	if cfg.Activation == nil {
		cfg.Activation = src.activation
	}
	if opts.ActivateFinal != nil {
		cfg.ActivateFinal = *opts.ActivateFinal
	}

	switch {
	case opts.NormalizationCtor != nil:
		cfg.NormalizationCtor = opts.NormalizationCtor
		if opts.NormalizationKwargs != nil {
			cfg.NormalizationKwargs = *opts.NormalizationKwargs
		}
	case src.useBatchNorm:
		cfg.UseBatchNorm = true
		bn := src.normCfg
		if opts.BatchNormConfig != nil {
			bn = *opts.BatchNormConfig
		}
		cfg.BatchNormConfig = &bn
	case src.normCtor != nil:
		cfg.NormalizationCtor = src.normCtor
		cfg.NormalizationKwargs = src.normCfg
		if opts.NormalizationKwargs != nil {
			cfg.NormalizationKwargs = *opts.NormalizationKwargs
		}
	}

	normalizeFinal := src.normalizeFinal
	cfg.NormalizeFinal = &normalizeFinal
	if opts.NormalizeFinal != nil {
		cfg.NormalizeFinal = opts.NormalizeFinal
	}

	cfg.Initializers = src.initializers
	if opts.Initializers != nil {
		cfg.Initializers = *opts.Initializers
	}
	cfg.Regularizers = src.regularizers
	if opts.Regularizers != nil {
		cfg.Regularizers = *opts.Regularizers
	}
	cfg.Partitioners = src.partitioners
	if opts.Partitioners != nil {
		cfg.Partitioners = *opts.Partitioners
	}
	return cfg
}

// Transpose derives the mirrored decoder stack: reversed layer order, each
// layer's output channels and target shape taken from the corresponding
// source layer's input. The mapping is lazy; the derived net can be created
// before the source is connected, but connecting it first fails with a
// NotConnectedError naming the unresolved source layer.
func (n *ConvNet2D) Transpose(opts *TransposeConfig) (*ConvNet2DTranspose, error) {
	if opts == nil {
		opts = &TransposeConfig{}
	}
	if err := n.build(); err != nil {
		return nil, err
	}
	numLayers := n.res.numLayers()
	cfg := transposedConfig(n.res, opts, n.res.name+"_transpose")
	res, err := resolveConfig(cfg, numLayers, cfg.Name)
	if err != nil {
		return nil, err
	}

	sources := n.layers
	net := &ConvNet2DTranspose{res: res}
	net.resolver = func() ([]int, []Dim2, error) {
		channels := make([]int, numLayers)
		shapes := make([]Dim2, numLayers)
		for i := 0; i < numLayers; i++ {
			src := sources[numLayers-1-i]
			if !src.Connected() {
				return nil, nil, &engine.NotConnectedError{Scope: src.Scope.Name()}
			}
			channels[i] = src.InputChannels()
			shapes[i] = src.InputSpatialShape()
		}
		return channels, shapes, nil
	}
	return net, nil
}

// Transpose derives the mirrored convolutional stack from a transposed net:
// reversed layer order, channel counts taken from the source layers' inputs.
func (t *ConvNet2DTranspose) Transpose(opts *TransposeConfig) (*ConvNet2D, error) {
	if opts == nil {
		opts = &TransposeConfig{}
	}
	if err := t.build(); err != nil {
		return nil, err
	}
	numLayers := t.res.numLayers()
	cfg := transposedConfig(t.res, opts, t.res.name+"_transpose")
	res, err := resolveConfig(cfg, numLayers, cfg.Name)
	if err != nil {
		return nil, err
	}

	sources := t.layers
	net := &ConvNet2D{res: res}
	net.channelFn = func() ([]int, error) {
		channels := make([]int, numLayers)
		for i := 0; i < numLayers; i++ {
			src := sources[numLayers-1-i]
			if !src.Connected() {
				return nil, &engine.NotConnectedError{Scope: src.Scope.Name()}
			}
			channels[i] = src.InputChannels()
		}
		return channels, nil
	}
	return net, nil
}
