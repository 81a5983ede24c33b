package engine

import "fmt"

// ShapeError reports an input whose shape cannot be processed, e.g. an image
// smaller than the receptive field of the stack it is fed to.
type ShapeError struct {
	Msg string
}

func (e *ShapeError) Error() string {
	return e.Msg
}

// Shapef builds a ShapeError from a format string.
func Shapef(format string, args ...any) *ShapeError {
	return &ShapeError{Msg: fmt.Sprintf(format, args...)}
}

// NotConnectedError reports an operation that needs resolved layer shapes
// before the owning module has been connected to an input.
type NotConnectedError struct {
	// Scope is the variable scope of the layer whose shapes are unresolved.
	Scope string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("variables in %s not instantiated yet, connect the module first", e.Scope)
}

// UnsupportedLayoutError reports a data format the executing backend cannot
// handle. The limitation is surfaced, never silently worked around.
type UnsupportedLayoutError struct {
	Format DataFormat
}

func (e *UnsupportedLayoutError) Error() string {
	return fmt.Sprintf("data format %s not supported: the CPU engine only supports NHWC", e.Format)
}
