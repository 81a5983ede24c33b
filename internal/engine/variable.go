package engine

import (
	"fmt"
	"math"
)

// Variable is one parameter tensor created by the engine.
type Variable struct {
	Name  string
	Shape []int
	Data  []float64

	// Trainable marks variables that would receive gradient updates.
	// Moving statistics are created with Trainable false, and interceptors
	// such as StopGradient clear the flag.
	Trainable bool

	// Partitions is the shard count chosen by the partitioner, 1 when the
	// variable is unpartitioned.
	Partitions int

	regularizer Regularizer
}

// RegularizationLoss evaluates the variable's regularizer, 0 when none is set.
func (v *Variable) RegularizationLoss() float64 {
	if v.regularizer == nil {
		return 0
	}
	return v.regularizer(v)
}

// Initializer produces the initial contents of a variable of a given shape.
type Initializer func(shape []int) []float64

// Regularizer maps a variable to a penalty term collected by the owning net.
type Regularizer func(v *Variable) float64

// Partitioner chooses how many shards a variable of a given shape is split
// into. Returning 0 or 1 leaves the variable unpartitioned.
type Partitioner func(shape []int) int

// Getter intercepts variable construction. The scope calls it with every
// variable it hands out, and the returned variable is what the layer sees.
type Getter func(v *Variable) *Variable

// StopGradient is a Getter that blocks gradient flow through the variables it
// intercepts by marking them non-trainable.
func StopGradient(v *Variable) *Variable {
	v.Trainable = false
	return v
}

// VarSpec bundles the construction parameters of a single variable request.
type VarSpec struct {
	Initializer Initializer
	Regularizer Regularizer
	Partitioner Partitioner
	Trainable   bool
}

// registry is the variable store shared by a root scope and its children.
type registry struct {
	vars   map[string]*Variable
	order  []string
	getter Getter
}

// Scope is a named variable registry. A root scope is shared (through child
// scopes) by every layer of a net, so a second forward pass finds variables by
// name instead of creating fresh ones.
type Scope struct {
	name string
	reg  *registry
}

// NewScope creates an empty variable scope with the given name.
func NewScope(name string) *Scope {
	return &Scope{name: name, reg: &registry{vars: map[string]*Variable{}}}
}

// Name returns the scope name.
func (s *Scope) Name() string {
	return s.name
}

// SetGetter installs a construction interceptor for the whole scope tree.
func (s *Scope) SetGetter(g Getter) {
	s.reg.getter = g
}

// Child returns a scope that shares this scope's registry and getter but
// prefixes variable names with the child name.
func (s *Scope) Child(name string) *Scope {
	return &Scope{name: s.name + "/" + name, reg: s.reg}
}

// Get returns the variable with the given name, creating it on first use.
// A second request with the same name shares the stored variable; requesting
// an existing name with a different shape is an error.
func (s *Scope) Get(name string, varShape []int, spec VarSpec) (*Variable, error) {
	full := s.name + "/" + name
	if v, ok := s.reg.vars[full]; ok {
		if !SameShape(v.Shape, varShape) {
			return nil, fmt.Errorf("variable %s already exists with shape %v, requested %v", full, v.Shape, varShape)
		}
		return v, nil
	}

	n := 1
	for _, d := range varShape {
		n *= d
	}
	var data []float64
	if spec.Initializer != nil {
		data = spec.Initializer(varShape)
		if len(data) != n {
			return nil, fmt.Errorf("initializer for %s produced %d values, want %d", full, len(data), n)
		}
	} else {
		data = make([]float64, n)
	}

	v := &Variable{
		Name:        full,
		Shape:       append([]int(nil), varShape...),
		Data:        data,
		Trainable:   spec.Trainable,
		Partitions:  1,
		regularizer: spec.Regularizer,
	}
	if spec.Partitioner != nil {
		if p := spec.Partitioner(varShape); p > 1 {
			v.Partitions = p
		}
	}
	if s.reg.getter != nil {
		v = s.reg.getter(v)
	}
	s.reg.vars[full] = v
	s.reg.order = append(s.reg.order, full)
	return v, nil
}

// Variables returns every variable of the scope tree in creation order.
func (s *Scope) Variables() []*Variable {
	out := make([]*Variable, 0, len(s.reg.order))
	for _, name := range s.reg.order {
		out = append(out, s.reg.vars[name])
	}
	return out
}

// TrainableVariables returns the trainable subset in creation order.
func (s *Scope) TrainableVariables() []*Variable {
	var out []*Variable
	for _, v := range s.Variables() {
		if v.Trainable {
			out = append(out, v)
		}
	}
	return out
}

// RegularizationLosses evaluates every registered regularizer.
func (s *Scope) RegularizationLosses() []float64 {
	var out []float64
	for _, v := range s.Variables() {
		if v.regularizer != nil {
			out = append(out, v.RegularizationLoss())
		}
	}
	return out
}

// Has reports whether a variable with the given name exists in this scope.
func (s *Scope) Has(name string) bool {
	_, ok := s.reg.vars[s.name+"/"+name]
	return ok
}

func sumAbs(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += math.Abs(x)
	}
	return total
}

func sumSq(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x * x
	}
	return total
}

// L1 returns a Regularizer computing scale * sum(|w|).
func L1(scale float64) Regularizer {
	return func(v *Variable) float64 {
		return scale * sumAbs(v.Data)
	}
}

// L2 returns a Regularizer computing scale * sum(w^2) / 2.
func L2(scale float64) Regularizer {
	return func(v *Variable) float64 {
		return scale * sumSq(v.Data) / 2
	}
}

// FixedSizePartitioner shards every variable into the given number of pieces.
func FixedSizePartitioner(numShards int) Partitioner {
	return func(shape []int) int {
		return numShards
	}
}
