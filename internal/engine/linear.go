package engine

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/freecloud2/convstack/internal/shape"
)

// Linear is a fully connected layer. Input of any rank is flattened to
// [batch, features]; weights are [features, outputSize].
type Linear struct {
	Scope      *Scope
	OutputSize int
	UseBias    bool

	WInit Initializer
	BInit Initializer
	WReg  Regularizer
	BReg  Regularizer
	WPart Partitioner
	BPart Partitioner

	W *Variable
	B *Variable

	inputSize int
	connected bool
}

// Connected reports whether the layer has resolved its input size.
func (l *Linear) Connected() bool {
	return l.connected
}

// InputSize returns the flattened input feature count.
func (l *Linear) InputSize() int {
	return l.inputSize
}

// Forward multiplies the flattened input by the weight matrix.
func (l *Linear) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() < 2 {
		return nil, Shapef("linear %s: input must have a batch dimension, got %v", l.Scope.Name(), x.Shape)
	}
	batch := x.Shape[0]
	features := x.NumElements() / batch
	if l.connected && features != l.inputSize {
		return nil, Shapef("linear %s: input has %d features, connected with %d", l.Scope.Name(), features, l.inputSize)
	}

	wInit := l.WInit
	if wInit == nil {
		wInit = TruncatedNormal(math.Sqrt(1.0 / float64(features)))
	}
	bInit := l.BInit
	if bInit == nil {
		bInit = Zeros()
	}
	var err error
	l.W, err = l.Scope.Get("w", []int{features, l.OutputSize}, VarSpec{
		Initializer: wInit,
		Regularizer: l.WReg,
		Partitioner: l.WPart,
		Trainable:   true,
	})
	if err != nil {
		return nil, err
	}
	if l.UseBias {
		l.B, err = l.Scope.Get("b", []int{l.OutputSize}, VarSpec{
			Initializer: bInit,
			Regularizer: l.BReg,
			Partitioner: l.BPart,
			Trainable:   true,
		})
		if err != nil {
			return nil, err
		}
	}

	in := mat.NewDense(batch, features, x.Data)
	w := mat.NewDense(features, l.OutputSize, l.W.Data)
	var prod mat.Dense
	prod.Mul(in, w)

	out := New(batch, l.OutputSize)
	for n := 0; n < batch; n++ {
		for o := 0; o < l.OutputSize; o++ {
			v := prod.At(n, o)
			if l.UseBias {
				v += l.B.Data[o]
			}
			out.Data[n*l.OutputSize+o] = v
		}
	}

	l.inputSize = features
	l.connected = true
	return out, nil
}

// MaxPool2D downsamples an NHWC tensor by taking the maximum over sliding
// windows. It owns no variables.
type MaxPool2D struct {
	Kernel  shape.Dim2
	Stride  shape.Dim2
	Padding shape.Padding

	outputShape shape.Dim2
}

// OutputShape returns the spatial shape produced by the last Forward.
func (m *MaxPool2D) OutputShape() shape.Dim2 {
	return m.outputShape
}

// Forward applies the pooling window.
func (m *MaxPool2D) Forward(x *Tensor) (*Tensor, error) {
	if x.Rank() != 4 {
		return nil, Shapef("max_pool2d: input must be rank 4, got %v", x.Shape)
	}
	batch, inH, inW, channels := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	one := shape.Dim2{H: 1, W: 1}
	outDim, err := shape.ConvOutputShape(shape.Dim2{H: inH, W: inW}, m.Kernel, m.Stride, one, m.Padding)
	if err != nil {
		return nil, Shapef("max_pool2d: %v", err)
	}
	padTop, _ := shape.PadBeforeAfter(inH, m.Kernel.H, m.Stride.H, 1, m.Padding)
	padLeft, _ := shape.PadBeforeAfter(inW, m.Kernel.W, m.Stride.W, 1, m.Padding)

	out := New(batch, outDim.H, outDim.W, channels)
	for n := 0; n < batch; n++ {
		for oh := 0; oh < outDim.H; oh++ {
			for ow := 0; ow < outDim.W; ow++ {
				for c := 0; c < channels; c++ {
					best := math.Inf(-1)
					for kh := 0; kh < m.Kernel.H; kh++ {
						ih := oh*m.Stride.H + kh - padTop
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < m.Kernel.W; kw++ {
							iw := ow*m.Stride.W + kw - padLeft
							if iw < 0 || iw >= inW {
								continue
							}
							if v := x.At4(n, ih, iw, c); v > best {
								best = v
							}
						}
					}
					out.Set4(n, oh, ow, c, best)
				}
			}
		}
	}
	m.outputShape = outDim
	return out, nil
}
