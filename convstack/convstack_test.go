// Package convstack provides smoke tests for the public facade.
package convstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncoderDecoderFacade tests the exported autoencoder workflow.
func TestEncoderDecoderFacade(t *testing.T) {
	enc, err := NewConvNet2D(Config{
		Name:           "encoder",
		OutputChannels: []int{8, 16},
		KernelShapes:   []Dim2{Square(3)},
		Strides:        []Dim2{Square(2)},
		Paddings:       []Padding{Same},
		Initializers:   Initializers{W: Constant(0.1), B: Zeros()},
	})
	require.NoError(t, err)

	dec, err := enc.Transpose(&TransposeConfig{Name: "decoder"})
	require.NoError(t, err)

	code, err := enc.Forward(Ones(1, 8, 8, 3), true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 16}, code.Shape)

	recon, err := dec.Forward(code, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 8, 3}, recon.Shape)
}

// TestAlexNetFacade tests the exported AlexNet constructors.
func TestAlexNetFacade(t *testing.T) {
	net, err := NewAlexNetMini(AlexNetConfig{})
	require.NoError(t, err)

	size := net.MinInputSize()
	out, err := net.Forward(Ones(1, size, size, 3), 1, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1024}, out.Shape)

	_, err = NewAlexNet("NANO", AlexNetConfig{})
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

// TestErrorTypesExported tests that callers can match the error taxonomy.
func TestErrorTypesExported(t *testing.T) {
	_, err := NewConvNet2D(Config{
		OutputChannels: []int{4, 8},
		KernelShapes:   []Dim2{Square(3), Square(3), Square(3)},
		Strides:        []Dim2{Square(1)},
		Paddings:       []Padding{Same},
	})
	require.Error(t, err)
	var lenErr *LengthError
	assert.ErrorAs(t, err, &lenErr)
}
