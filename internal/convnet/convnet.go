package convnet

import (
	"fmt"

	"github.com/freecloud2/convstack/internal/activations"
	"github.com/freecloud2/convstack/internal/engine"
)

// ConvNet2D is an ordered stack of 2D convolutions with optional
// normalization and activation between layers. Construction validates and
// broadcasts the configuration; variables and shapes only exist after the
// first Forward call connects the net to an input.
type ConvNet2D struct {
	res   *resolved
	scope *engine.Scope

	layers []*engine.Conv2D
	norms  []engine.Normalizer

	// channelFn lazily supplies per-layer output channels when the net was
	// derived by transposing a ConvNet2DTranspose. Nil for user-built nets.
	channelFn func() ([]int, error)

	inputShape []int
	connected  bool
}

// NewConvNet2D builds a convolutional stack from cfg.
func NewConvNet2D(cfg Config) (*ConvNet2D, error) {
	if len(cfg.OutputChannels) == 0 {
		return nil, configf("output_channels must not be empty")
	}
	if cfg.OutputShapes != nil {
		return nil, configf("output_shapes is only valid for ConvNet2DTranspose")
	}
	res, err := resolveConfig(cfg, len(cfg.OutputChannels), "conv_net_2d")
	if err != nil {
		return nil, err
	}
	net := &ConvNet2D{res: res}
	if err := net.build(); err != nil {
		return nil, err
	}
	return net, nil
}

// build materializes the engine layers. For lazily derived nets it first
// resolves the output channel counts from the source stack.
func (n *ConvNet2D) build() error {
	if n.layers != nil {
		return nil
	}
	if n.res.outputChannels == nil {
		channels, err := n.channelFn()
		if err != nil {
			return err
		}
		n.res.outputChannels = channels
	}
	n.scope = engine.NewScope(n.res.name)
	if n.res.getter != nil {
		n.scope.SetGetter(n.res.getter)
	}
	n.layers = make([]*engine.Conv2D, n.res.numLayers())
	n.norms = make([]engine.Normalizer, n.res.numLayers())
	for i := range n.layers {
		n.layers[i] = &engine.Conv2D{
			Scope:       n.scope.Child(fmt.Sprintf("conv_2d_%d", i)),
			OutChannels: n.res.outputChannels[i],
			Kernel:      n.res.kernelShapes[i],
			Stride:      n.res.strides[i],
			Rate:        n.res.rates[i],
			Padding:     n.res.paddings[i],
			UseBias:     n.res.useBias[i],
			Format:      n.res.format,
			WInit:       n.res.initializers.W,
			BInit:       n.res.initializers.B,
			WReg:        n.res.regularizers.W,
			BReg:        n.res.regularizers.B,
			WPart:       n.res.partitioners.W,
			BPart:       n.res.partitioners.B,
		}
		if n.res.normalized(i) {
			n.norms[i] = n.res.normCtor(n.scope.Child(fmt.Sprintf("batch_norm_%d", i)), n.res.normCfg)
		}
	}
	return nil
}

// Forward connects the net (on first call) and runs the stack over x.
func (n *ConvNet2D) Forward(x *engine.Tensor, isTraining bool) (*engine.Tensor, error) {
	return n.ForwardWithStats(x, isTraining, false)
}

// ForwardWithStats is Forward with explicit control over whether
// normalization uses batch-local statistics outside training.
func (n *ConvNet2D) ForwardWithStats(x *engine.Tensor, isTraining, testLocalStats bool) (*engine.Tensor, error) {
	if err := n.build(); err != nil {
		return nil, err
	}
	h := x
	var err error
	for i, layer := range n.layers {
		if h, err = layer.Forward(h); err != nil {
			return nil, err
		}
		if n.norms[i] != nil {
			if h, err = n.norms[i].Forward(h, isTraining, testLocalStats); err != nil {
				return nil, err
			}
		}
		if n.res.activated(i) {
			h = activate(h, n.res.activation)
		}
	}
	if !n.connected {
		n.inputShape = append([]int(nil), x.Shape...)
		n.connected = true
	}
	return h, nil
}

// activate applies act elementwise, leaving the input tensor untouched.
func activate(x *engine.Tensor, act activations.Activation) *engine.Tensor {
	out := engine.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = act.Activate(v)
	}
	return out
}

// Name returns the net's variable scope name.
func (n *ConvNet2D) Name() string {
	return n.res.name
}

// Connected reports whether the net has been bound to an input shape.
func (n *ConvNet2D) Connected() bool {
	return n.connected
}

// InputShape returns the full input shape, nil before connection.
func (n *ConvNet2D) InputShape() []int {
	return n.inputShape
}

// Layers returns the per-layer engine descriptors.
func (n *ConvNet2D) Layers() []*engine.Conv2D {
	return n.layers
}

// OutputChannels returns the per-layer output channel counts. For a net
// derived by transposition the value is nil until the source net has been
// connected.
func (n *ConvNet2D) OutputChannels() []int {
	return n.res.outputChannels
}

// KernelShapes returns the per-layer kernel shapes.
func (n *ConvNet2D) KernelShapes() []Dim2 {
	return n.res.kernelShapes
}

// Strides returns the per-layer strides.
func (n *ConvNet2D) Strides() []Dim2 {
	return n.res.strides
}

// Rates returns the per-layer dilation rates.
func (n *ConvNet2D) Rates() []Dim2 {
	return n.res.rates
}

// Paddings returns the per-layer padding modes.
func (n *ConvNet2D) Paddings() []Padding {
	return n.res.paddings
}

// UseBias returns the per-layer bias flags.
func (n *ConvNet2D) UseBias() []bool {
	return n.res.useBias
}

// ActivateFinal reports whether the final layer is activated.
func (n *ConvNet2D) ActivateFinal() bool {
	return n.res.activateFinal
}

// Activation returns the activation applied between layers.
func (n *ConvNet2D) Activation() activations.Activation {
	return n.res.activation
}

// UseBatchNorm reports whether the stack normalizes with batch norm.
func (n *ConvNet2D) UseBatchNorm() bool {
	return n.res.useBatchNorm
}

// DataFormat returns the configured tensor layout.
func (n *ConvNet2D) DataFormat() engine.DataFormat {
	return n.res.format
}

// GetVariables returns the trainable variables created so far, in creation
// order. Empty before the net is connected.
func (n *ConvNet2D) GetVariables() []*engine.Variable {
	if n.scope == nil {
		return nil
	}
	return n.scope.TrainableVariables()
}

// AllVariables additionally includes non-trainable variables such as the
// batch-norm moving statistics.
func (n *ConvNet2D) AllVariables() []*engine.Variable {
	if n.scope == nil {
		return nil
	}
	return n.scope.Variables()
}

// RegularizationLosses evaluates every variable regularizer registered by
// the net's layers.
func (n *ConvNet2D) RegularizationLosses() []float64 {
	if n.scope == nil {
		return nil
	}
	return n.scope.RegularizationLosses()
}
