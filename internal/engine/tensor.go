// Package engine is the numeric backend the stack builders connect to. It
// owns variable creation and the forward implementations of the layer
// primitives. Gradient computation is out of scope; the engine only runs
// forward passes and tracks the variables it created.
package engine

import "fmt"

// DataFormat names the memory layout of image tensors.
type DataFormat string

const (
	// NHWC is batch, height, width, channels. The CPU engine only supports
	// this layout.
	NHWC DataFormat = "NHWC"
	// NCHW is batch, channels, height, width. Accepted at configuration
	// time, rejected when a primitive is asked to run with it.
	NCHW DataFormat = "NCHW"
)

// IsValid reports whether f is a recognised data format.
func (f DataFormat) IsValid() bool {
	return f == NHWC || f == NCHW
}

// Tensor is a dense float64 array with an explicit shape.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zero tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Ones allocates a tensor filled with 1.
func Ones(shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t
}

// NumElements returns the total number of scalar entries.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// offset4 computes the flat index of element (n, h, w, c) of an NHWC tensor.
func (t *Tensor) offset4(n, h, w, c int) int {
	return ((n*t.Shape[1]+h)*t.Shape[2]+w)*t.Shape[3] + c
}

// At4 reads element (n, h, w, c) of an NHWC tensor.
func (t *Tensor) At4(n, h, w, c int) float64 {
	return t.Data[t.offset4(n, h, w, c)]
}

// Set4 writes element (n, h, w, c) of an NHWC tensor.
func (t *Tensor) Set4(n, h, w, c int, v float64) {
	t.Data[t.offset4(n, h, w, c)] = v
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}
