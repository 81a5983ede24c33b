package engine

import (
	"fmt"

	"github.com/freecloud2/convstack/internal/shape"
)

// Conv2D is the forward implementation of one 2D convolution. Weights are
// stored as [kernelH, kernelW, inChannels, outChannels], biases as
// [outChannels]. Variables are created on first Forward and shared on every
// call after that.
type Conv2D struct {
	Scope       *Scope
	OutChannels int
	Kernel      shape.Dim2
	Stride      shape.Dim2
	Rate        shape.Dim2
	Padding     shape.Padding
	UseBias     bool
	Format      DataFormat

	WInit Initializer
	BInit Initializer
	WReg  Regularizer
	BReg  Regularizer
	WPart Partitioner
	BPart Partitioner

	W *Variable
	B *Variable

	inputShape  []int
	outputShape shape.Dim2
	connected   bool
}

// Connected reports whether the layer has resolved its shapes.
func (c *Conv2D) Connected() bool {
	return c.connected
}

// InputShape returns the full input shape seen on first Forward.
func (c *Conv2D) InputShape() []int {
	return c.inputShape
}

// InputChannels returns the channel count of the connected input.
func (c *Conv2D) InputChannels() int {
	return c.inputShape[3]
}

// InputSpatialShape returns the (height, width) of the connected input.
func (c *Conv2D) InputSpatialShape() shape.Dim2 {
	return shape.Dim2{H: c.inputShape[1], W: c.inputShape[2]}
}

// OutputShape returns the spatial shape of the output.
func (c *Conv2D) OutputShape() shape.Dim2 {
	return c.outputShape
}

func (c *Conv2D) rate() shape.Dim2 {
	if c.Rate.H == 0 && c.Rate.W == 0 {
		return shape.Dim2{H: 1, W: 1}
	}
	return c.Rate
}

func (c *Conv2D) checkInput(x *Tensor) error {
	if c.Format == NCHW {
		return &UnsupportedLayoutError{Format: c.Format}
	}
	if x.Rank() != 4 {
		return Shapef("conv2d %s: input must be rank 4, got %v", c.Scope.Name(), x.Shape)
	}
	if c.connected && x.Shape[3] != c.inputShape[3] {
		return Shapef("conv2d %s: input has %d channels, connected with %d", c.Scope.Name(), x.Shape[3], c.inputShape[3])
	}
	return nil
}

func (c *Conv2D) ensureVariables(inChannels int) error {
	wInit := c.WInit
	if wInit == nil {
		wInit = HeNormal(inChannels * c.Kernel.H * c.Kernel.W)
	}
	bInit := c.BInit
	if bInit == nil {
		bInit = Zeros()
	}
	var err error
	c.W, err = c.Scope.Get("w", []int{c.Kernel.H, c.Kernel.W, inChannels, c.OutChannels}, VarSpec{
		Initializer: wInit,
		Regularizer: c.WReg,
		Partitioner: c.WPart,
		Trainable:   true,
	})
	if err != nil {
		return err
	}
	if c.UseBias {
		c.B, err = c.Scope.Get("b", []int{c.OutChannels}, VarSpec{
			Initializer: bInit,
			Regularizer: c.BReg,
			Partitioner: c.BPart,
			Trainable:   true,
		})
	}
	return err
}

// Forward runs the convolution over an NHWC input.
func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	if err := c.checkInput(x); err != nil {
		return nil, err
	}
	rate := c.rate()
	outDim, err := shape.ConvOutputShape(
		shape.Dim2{H: x.Shape[1], W: x.Shape[2]}, c.Kernel, c.Stride, rate, c.Padding)
	if err != nil {
		return nil, Shapef("conv2d %s: %v", c.Scope.Name(), err)
	}
	if err := c.ensureVariables(x.Shape[3]); err != nil {
		return nil, err
	}

	batch, inH, inW, inC := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	padTop, _ := shape.PadBeforeAfter(inH, c.Kernel.H, c.Stride.H, rate.H, c.Padding)
	padLeft, _ := shape.PadBeforeAfter(inW, c.Kernel.W, c.Stride.W, rate.W, c.Padding)

	out := New(batch, outDim.H, outDim.W, c.OutChannels)
	w := c.W.Data
	for n := 0; n < batch; n++ {
		for oh := 0; oh < outDim.H; oh++ {
			for ow := 0; ow < outDim.W; ow++ {
				for oc := 0; oc < c.OutChannels; oc++ {
					sum := 0.0
					if c.UseBias {
						sum = c.B.Data[oc]
					}
					for kh := 0; kh < c.Kernel.H; kh++ {
						ih := oh*c.Stride.H + kh*rate.H - padTop
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < c.Kernel.W; kw++ {
							iw := ow*c.Stride.W + kw*rate.W - padLeft
							if iw < 0 || iw >= inW {
								continue
							}
							wBase := ((kh*c.Kernel.W+kw)*inC)*c.OutChannels + oc
							for ic := 0; ic < inC; ic++ {
								sum += x.At4(n, ih, iw, ic) * w[wBase+ic*c.OutChannels]
							}
						}
					}
					out.Set4(n, oh, ow, oc, sum)
				}
			}
		}
	}

	c.inputShape = append([]int(nil), x.Shape...)
	c.outputShape = outDim
	c.connected = true
	return out, nil
}

// ConvTranspose2D is the forward implementation of one transposed 2D
// convolution with an explicit target output shape. Weights are stored as
// [kernelH, kernelW, outChannels, inChannels].
type ConvTranspose2D struct {
	Scope       *Scope
	OutChannels int
	OutShape    shape.Dim2
	Kernel      shape.Dim2
	Stride      shape.Dim2
	Padding     shape.Padding
	UseBias     bool
	Format      DataFormat

	WInit Initializer
	BInit Initializer
	WReg  Regularizer
	BReg  Regularizer
	WPart Partitioner
	BPart Partitioner

	W *Variable
	B *Variable

	inputShape []int
	connected  bool
}

// Connected reports whether the layer has resolved its shapes.
func (c *ConvTranspose2D) Connected() bool {
	return c.connected
}

// InputShape returns the full input shape seen on first Forward.
func (c *ConvTranspose2D) InputShape() []int {
	return c.inputShape
}

// InputChannels returns the channel count of the connected input.
func (c *ConvTranspose2D) InputChannels() int {
	return c.inputShape[3]
}

// InputSpatialShape returns the (height, width) of the connected input.
func (c *ConvTranspose2D) InputSpatialShape() shape.Dim2 {
	return shape.Dim2{H: c.inputShape[1], W: c.inputShape[2]}
}

// OutputShape returns the spatial shape of the output.
func (c *ConvTranspose2D) OutputShape() shape.Dim2 {
	return c.OutShape
}

func (c *ConvTranspose2D) ensureVariables(inChannels int) error {
	wInit := c.WInit
	if wInit == nil {
		wInit = HeNormal(inChannels * c.Kernel.H * c.Kernel.W)
	}
	bInit := c.BInit
	if bInit == nil {
		bInit = Zeros()
	}
	var err error
	c.W, err = c.Scope.Get("w", []int{c.Kernel.H, c.Kernel.W, c.OutChannels, inChannels}, VarSpec{
		Initializer: wInit,
		Regularizer: c.WReg,
		Partitioner: c.WPart,
		Trainable:   true,
	})
	if err != nil {
		return err
	}
	if c.UseBias {
		c.B, err = c.Scope.Get("b", []int{c.OutChannels}, VarSpec{
			Initializer: bInit,
			Regularizer: c.BReg,
			Partitioner: c.BPart,
			Trainable:   true,
		})
	}
	return err
}

// Forward runs the transposed convolution over an NHWC input, producing the
// configured target spatial shape.
func (c *ConvTranspose2D) Forward(x *Tensor) (*Tensor, error) {
	if c.Format == NCHW {
		return nil, &UnsupportedLayoutError{Format: c.Format}
	}
	if x.Rank() != 4 {
		return nil, Shapef("conv2d_transpose %s: input must be rank 4, got %v", c.Scope.Name(), x.Shape)
	}
	batch, inH, inW, inC := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if err := shape.CheckTransposeShape(inH, c.OutShape.H, c.Kernel.H, c.Stride.H, c.Padding); err != nil {
		return nil, Shapef("conv2d_transpose %s: height: %v", c.Scope.Name(), err)
	}
	if err := shape.CheckTransposeShape(inW, c.OutShape.W, c.Kernel.W, c.Stride.W, c.Padding); err != nil {
		return nil, Shapef("conv2d_transpose %s: width: %v", c.Scope.Name(), err)
	}
	if err := c.ensureVariables(inC); err != nil {
		return nil, err
	}

	padTop, _ := shape.PadBeforeAfter(c.OutShape.H, c.Kernel.H, c.Stride.H, 1, c.Padding)
	padLeft, _ := shape.PadBeforeAfter(c.OutShape.W, c.Kernel.W, c.Stride.W, 1, c.Padding)

	out := New(batch, c.OutShape.H, c.OutShape.W, c.OutChannels)
	w := c.W.Data
	for n := 0; n < batch; n++ {
		for ih := 0; ih < inH; ih++ {
			for iw := 0; iw < inW; iw++ {
				for kh := 0; kh < c.Kernel.H; kh++ {
					oh := ih*c.Stride.H + kh - padTop
					if oh < 0 || oh >= c.OutShape.H {
						continue
					}
					for kw := 0; kw < c.Kernel.W; kw++ {
						ow := iw*c.Stride.W + kw - padLeft
						if ow < 0 || ow >= c.OutShape.W {
							continue
						}
						wBase := ((kh*c.Kernel.W + kw) * c.OutChannels) * inC
						for oc := 0; oc < c.OutChannels; oc++ {
							sum := 0.0
							for ic := 0; ic < inC; ic++ {
								sum += x.At4(n, ih, iw, ic) * w[wBase+oc*inC+ic]
							}
							out.Data[out.offset4(n, oh, ow, oc)] += sum
						}
					}
				}
			}
		}
	}
	if c.UseBias {
		for n := 0; n < batch; n++ {
			for oh := 0; oh < c.OutShape.H; oh++ {
				for ow := 0; ow < c.OutShape.W; ow++ {
					for oc := 0; oc < c.OutChannels; oc++ {
						out.Data[out.offset4(n, oh, ow, oc)] += c.B.Data[oc]
					}
				}
			}
		}
	}

	c.inputShape = append([]int(nil), x.Shape...)
	c.connected = true
	return out, nil
}

// String identifies the layer by scope for error messages.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2D(%s)", c.Scope.Name())
}

func (c *ConvTranspose2D) String() string {
	return fmt.Sprintf("ConvTranspose2D(%s)", c.Scope.Name())
}
