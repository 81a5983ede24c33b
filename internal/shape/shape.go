// Package shape implements the integer arithmetic that relates convolution
// inputs, kernels, strides and paddings to output sizes.
package shape

import "fmt"

// Padding selects how a convolution treats the borders of its input.
type Padding string

const (
	// Same pads the input so that output size = ceil(input / stride).
	Same Padding = "SAME"
	// Valid applies no padding; the kernel must fit entirely inside the input.
	Valid Padding = "VALID"
)

// IsValid reports whether p is one of the recognised padding modes.
func (p Padding) IsValid() bool {
	return p == Same || p == Valid
}

// Dim2 is a (height, width) pair. Kernels, strides, dilation rates and
// spatial shapes are all expressed as Dim2 values.
type Dim2 struct {
	H, W int
}

// Square returns a Dim2 with both sides equal to k.
func Square(k int) Dim2 {
	return Dim2{H: k, W: k}
}

func (d Dim2) String() string {
	return fmt.Sprintf("%dx%d", d.H, d.W)
}

// EffectiveKernel returns the extent of a kernel of size k dilated by rate:
// (k-1)*rate + 1.
func EffectiveKernel(k, rate int) int {
	return (k-1)*rate + 1
}

// ConvOutputSize computes the output length of a 1D convolution along one
// axis. For Valid padding the (dilated) kernel must fit inside the input.
func ConvOutputSize(in, kernel, stride, rate int, padding Padding) (int, error) {
	keff := EffectiveKernel(kernel, rate)
	switch padding {
	case Same:
		return (in + stride - 1) / stride, nil
	case Valid:
		if in < keff {
			return 0, fmt.Errorf("input size %d smaller than effective kernel size %d", in, keff)
		}
		return (in-keff)/stride + 1, nil
	default:
		return 0, fmt.Errorf("invalid padding %v", padding)
	}
}

// ConvOutputShape applies ConvOutputSize to both spatial axes.
func ConvOutputShape(in, kernel, stride, rate Dim2, padding Padding) (Dim2, error) {
	h, err := ConvOutputSize(in.H, kernel.H, stride.H, rate.H, padding)
	if err != nil {
		return Dim2{}, err
	}
	w, err := ConvOutputSize(in.W, kernel.W, stride.W, rate.W, padding)
	if err != nil {
		return Dim2{}, err
	}
	return Dim2{H: h, W: w}, nil
}

// PadBeforeAfter returns the amount of zero padding inserted before and after
// one axis. Excess padding goes after, matching the usual SAME convention.
func PadBeforeAfter(in, kernel, stride, rate int, padding Padding) (int, int) {
	if padding == Valid {
		return 0, 0
	}
	keff := EffectiveKernel(kernel, rate)
	out := (in + stride - 1) / stride
	total := (out-1)*stride + keff - in
	if total < 0 {
		total = 0
	}
	return total / 2, total - total/2
}

// CheckTransposeShape verifies that a transposed convolution from input size
// in to target output size out is consistent: convolving the target with the
// same kernel/stride/padding must give back the input size.
func CheckTransposeShape(in, out, kernel, stride int, padding Padding) error {
	roundTrip, err := ConvOutputSize(out, kernel, stride, 1, padding)
	if err != nil {
		return err
	}
	if roundTrip != in {
		return fmt.Errorf("output size %d is not reachable from input size %d with kernel %d, stride %d, padding %s",
			out, in, kernel, stride, padding)
	}
	return nil
}
