// Package convnet provides unit tests for the convolutional stack builder.
package convnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freecloud2/convstack/internal/activations"
	"github.com/freecloud2/convstack/internal/engine"
)

func simpleConfig() Config {
	return Config{
		OutputChannels: []int{4, 8, 16},
		KernelShapes:   []Dim2{Square(3)},
		Strides:        []Dim2{Square(1)},
		Paddings:       []Padding{Same},
	}
}

// TestConstructorDefaults tests broadcasting and the documented defaults.
func TestConstructorDefaults(t *testing.T) {
	net, err := NewConvNet2D(simpleConfig())
	require.NoError(t, err)

	assert.Equal(t, "conv_net_2d", net.Name())
	assert.Equal(t, []int{4, 8, 16}, net.OutputChannels())
	assert.Equal(t, []Dim2{Square(3), Square(3), Square(3)}, net.KernelShapes())
	assert.Equal(t, []Dim2{Square(1), Square(1), Square(1)}, net.Strides())
	assert.Equal(t, []Dim2{Square(1), Square(1), Square(1)}, net.Rates())
	assert.Equal(t, []Padding{Same, Same, Same}, net.Paddings())
	assert.Equal(t, []bool{true, true, true}, net.UseBias())
	assert.IsType(t, activations.ReLU{}, net.Activation())
	assert.False(t, net.ActivateFinal())
	assert.Equal(t, engine.NHWC, net.DataFormat())
	assert.False(t, net.Connected())
}

// TestConstructorPerLayerParams tests full-length parameter sequences.
func TestConstructorPerLayerParams(t *testing.T) {
	cfg := Config{
		OutputChannels: []int{4, 8},
		KernelShapes:   []Dim2{Square(3), Square(5)},
		Strides:        []Dim2{Square(1), Square(2)},
		Paddings:       []Padding{Same, Valid},
		UseBias:        []bool{true, false},
		Rates:          []Dim2{Square(1), Square(2)},
	}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	assert.Equal(t, []Dim2{Square(3), Square(5)}, net.KernelShapes())
	assert.Equal(t, []Dim2{Square(1), Square(2)}, net.Strides())
	assert.Equal(t, []Padding{Same, Valid}, net.Paddings())
	assert.Equal(t, []bool{true, false}, net.UseBias())
	assert.Equal(t, []Dim2{Square(1), Square(2)}, net.Rates())
}

// TestConstructorErrors tests the rejection of malformed configurations.
func TestConstructorErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"Empty channels", func(c *Config) { c.OutputChannels = nil }, "output_channels must not be empty"},
		{"Negative channels", func(c *Config) { c.OutputChannels = []int{4, -8, 16} }, "output_channels must be positive"},
		{"Output shapes", func(c *Config) { c.OutputShapes = []Dim2{{H: 4, W: 4}} }, "only valid for ConvNet2DTranspose"},
		{"Bad padding", func(c *Config) { c.Paddings = []Padding{"HALF"} }, "invalid padding"},
		{"Bad format", func(c *Config) { c.DataFormat = "NWCH" }, "invalid data_format"},
		{"Zero kernel", func(c *Config) { c.KernelShapes = []Dim2{{H: 0, W: 3}} }, "kernel_shapes must be positive"},
		{"Zero stride", func(c *Config) { c.Strides = []Dim2{{H: 1, W: 0}} }, "strides must be positive"},
		{"Zero rate", func(c *Config) { c.Rates = []Dim2{{H: 0, W: 1}} }, "rates must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := simpleConfig()
			tt.mutate(&cfg)
			_, err := NewConvNet2D(cfg)
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// TestBroadcastLengthErrors tests the length-1-or-N rule per parameter.
func TestBroadcastLengthErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		param  string
	}{
		{"Kernels", func(c *Config) { c.KernelShapes = []Dim2{Square(3), Square(3)} }, "kernel_shapes"},
		{"Strides", func(c *Config) { c.Strides = []Dim2{Square(1), Square(2)} }, "strides"},
		{"Paddings", func(c *Config) { c.Paddings = []Padding{Same, Valid} }, "paddings"},
		{"Rates", func(c *Config) { c.Rates = []Dim2{Square(1), Square(1)} }, "rates"},
		{"UseBias", func(c *Config) { c.UseBias = []bool{true, false} }, "use_bias"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := simpleConfig()
			tt.mutate(&cfg)
			_, err := NewConvNet2D(cfg)
			require.Error(t, err)
			var lenErr *LengthError
			require.ErrorAs(t, err, &lenErr)
			assert.Equal(t, tt.param, lenErr.Param)
			assert.Equal(t, 2, lenErr.Got)
			assert.Equal(t, 3, lenErr.Want)
			assert.Contains(t, err.Error(), "must be of length 1 or 3, got 2")
		})
	}
}

// TestNormalizationConflict tests that the batch-norm flag and an explicit
// constructor are mutually exclusive.
func TestNormalizationConflict(t *testing.T) {
	cfg := simpleConfig()
	cfg.UseBatchNorm = true
	cfg.NormalizationCtor = engine.NewLayerNorm

	_, err := NewConvNet2D(cfg)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "cannot set normalization_ctor if use_batch_norm is specified")
}

// TestForwardShapes tests channel and spatial tracking through the stack.
func TestForwardShapes(t *testing.T) {
	net, err := NewConvNet2D(Config{
		OutputChannels: []int{4, 8},
		KernelShapes:   []Dim2{Square(3)},
		Strides:        []Dim2{Square(2)},
		Paddings:       []Padding{Same},
	})
	require.NoError(t, err)

	out, err := net.Forward(engine.Ones(1, 8, 8, 3), true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 8}, out.Shape)
	assert.True(t, net.Connected())
	assert.Equal(t, []int{1, 8, 8, 3}, net.InputShape())
}

// TestVariableNames tests scope-prefixed naming and the trainable count.
func TestVariableNames(t *testing.T) {
	net, err := NewConvNet2D(simpleConfig())
	require.NoError(t, err)
	assert.Empty(t, net.GetVariables())

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)

	vars := net.GetVariables()
	require.Len(t, vars, 6)
	assert.Equal(t, "conv_net_2d/conv_2d_0/w", vars[0].Name)
	assert.Equal(t, "conv_net_2d/conv_2d_0/b", vars[1].Name)
	assert.Equal(t, "conv_net_2d/conv_2d_2/b", vars[5].Name)
	assert.Equal(t, []int{3, 3, 1, 4}, vars[0].Shape)
	assert.Equal(t, []int{3, 3, 8, 16}, vars[4].Shape)
}

// TestVariableSharing tests that a second forward pass reuses variables.
func TestVariableSharing(t *testing.T) {
	net, err := NewConvNet2D(simpleConfig())
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 2), true)
	require.NoError(t, err)
	first := net.GetVariables()

	_, err = net.Forward(engine.Ones(2, 4, 4, 2), false)
	require.NoError(t, err)
	second := net.GetVariables()

	require.Len(t, second, len(first))
	for i := range first {
		assert.Same(t, first[i], second[i])
	}
}

// TestNoBias tests that disabling the bias halves the variable count.
func TestNoBias(t *testing.T) {
	cfg := simpleConfig()
	cfg.UseBias = []bool{false}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)
	assert.Len(t, net.GetVariables(), 3)
}

// TestActivationApplied tests that intermediate layers are rectified while
// the final layer is left linear by default.
func TestActivationApplied(t *testing.T) {
	cfg := Config{
		OutputChannels: []int{1, 1},
		KernelShapes:   []Dim2{Square(1)},
		Strides:        []Dim2{Square(1)},
		Paddings:       []Padding{Same},
		UseBias:        []bool{false},
		Initializers:   Initializers{W: engine.Constant(-1)},
	}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	out, err := net.Forward(engine.Ones(1, 2, 2, 1), true)
	require.NoError(t, err)
	// Layer 0 produces -1, ReLU clamps to 0, layer 1 then outputs 0. With
	// ActivateFinal unset a negative final value would survive, which the
	// next case checks.
	assert.Equal(t, 0.0, out.Data[0])

	cfg.Initializers.W = engine.Constant(1)
	cfg.ActivateFinal = true
	net, err = NewConvNet2D(cfg)
	require.NoError(t, err)
	out, err = net.Forward(engine.Ones(1, 2, 2, 1), true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Data[0])
}

// TestFinalLayerNotActivated tests that the default leaves the last layer
// linear.
func TestFinalLayerNotActivated(t *testing.T) {
	net, err := NewConvNet2D(Config{
		OutputChannels: []int{1},
		KernelShapes:   []Dim2{Square(1)},
		Strides:        []Dim2{Square(1)},
		Paddings:       []Padding{Same},
		UseBias:        []bool{false},
		Initializers:   Initializers{W: engine.Constant(-2)},
	})
	require.NoError(t, err)

	out, err := net.Forward(engine.Ones(1, 1, 1, 1), true)
	require.NoError(t, err)
	assert.Equal(t, -2.0, out.Data[0])
}

// TestBatchNormVariables tests moving statistics and the normalize-final
// default.
func TestBatchNormVariables(t *testing.T) {
	cfg := simpleConfig()
	cfg.UseBatchNorm = true
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)
	assert.True(t, net.UseBatchNorm())

	_, err = net.Forward(engine.Ones(2, 4, 4, 1), true)
	require.NoError(t, err)

	// ActivateFinal is false, so the final layer is not normalized either:
	// two batch-norm layers with beta plus moving mean and variance.
	all := net.AllVariables()
	assert.Len(t, all, 6+2*3)
	assert.Len(t, net.GetVariables(), 6+2)

	names := map[string]bool{}
	for _, v := range all {
		names[v.Name] = true
	}
	assert.True(t, names["conv_net_2d/batch_norm_0/moving_mean"])
	assert.True(t, names["conv_net_2d/batch_norm_1/moving_variance"])
	assert.False(t, names["conv_net_2d/batch_norm_2/moving_mean"])
}

// TestNormalizeFinalOverride tests decoupling normalization from activation
// on the final layer.
func TestNormalizeFinalOverride(t *testing.T) {
	normalizeFinal := true
	cfg := simpleConfig()
	cfg.UseBatchNorm = true
	cfg.NormalizeFinal = &normalizeFinal
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(2, 4, 4, 1), true)
	require.NoError(t, err)
	assert.Len(t, net.AllVariables(), 6+3*3)
}

// TestCustomNormalizationCtor tests plugging in layer normalization.
func TestCustomNormalizationCtor(t *testing.T) {
	cfg := simpleConfig()
	cfg.NormalizationCtor = engine.NewLayerNorm
	cfg.NormalizationKwargs = engine.NormConfig{Offset: true}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)

	// Layer norm adds one beta per normalized layer, no moving statistics.
	assert.Len(t, net.AllVariables(), 6+2)
}

// TestRegularizersCollected tests that every layer contributes w and b
// penalties.
func TestRegularizersCollected(t *testing.T) {
	cfg := simpleConfig()
	cfg.Regularizers = Regularizers{W: engine.L1(0.5), B: engine.L2(0.5)}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)
	assert.Len(t, net.RegularizationLosses(), 6)
}

// TestCustomGetter tests variable interception across the whole stack.
func TestCustomGetter(t *testing.T) {
	cfg := simpleConfig()
	cfg.CustomGetter = engine.StopGradient
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)
	assert.Empty(t, net.GetVariables())
	assert.Len(t, net.AllVariables(), 6)
}

// TestInitializersUsed tests that configured initializers reach the layers.
func TestInitializersUsed(t *testing.T) {
	cfg := simpleConfig()
	cfg.Initializers = Initializers{W: engine.Constant(1.5), B: engine.Constant(2.5)}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)
	for _, layer := range net.Layers() {
		assert.Equal(t, 1.5, layer.W.Data[0])
		assert.Equal(t, 2.5, layer.B.Data[0])
	}
}

// TestPartitionersUsed tests that partitioners shard every variable.
func TestPartitionersUsed(t *testing.T) {
	cfg := simpleConfig()
	cfg.Partitioners = Partitioners{
		W: engine.FixedSizePartitioner(2),
		B: engine.FixedSizePartitioner(2),
	}
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)

	_, err = net.Forward(engine.Ones(1, 4, 4, 1), true)
	require.NoError(t, err)
	for _, v := range net.GetVariables() {
		assert.Equal(t, 2, v.Partitions)
	}
}

// TestNCHWRejectedAtForward tests that the layout is accepted in the
// configuration but refused by the executing engine.
func TestNCHWRejectedAtForward(t *testing.T) {
	cfg := simpleConfig()
	cfg.DataFormat = engine.NCHW
	net, err := NewConvNet2D(cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.NCHW, net.DataFormat())

	_, err = net.Forward(engine.Ones(1, 3, 4, 4), true)
	require.Error(t, err)
	var layoutErr *engine.UnsupportedLayoutError
	require.ErrorAs(t, err, &layoutErr)
	assert.Contains(t, err.Error(), "only supports NHWC")
}
