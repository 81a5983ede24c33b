// Package convnet builds validated stacks of convolutional and transposed
// convolutional layers. A net is purely descriptive until its first Forward
// call binds it to an input shape; transposing a connected net derives the
// mirrored decoder stack.
package convnet

import "fmt"

// ConfigError reports an invalid or conflicting construction parameter.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func configf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// LengthError reports a per-layer parameter sequence whose length is neither
// 1 nor the number of layers.
type LengthError struct {
	Param string
	Got   int
	Want  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s must be of length 1 or %d, got %d", e.Param, e.Want, e.Got)
}
