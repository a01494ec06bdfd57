// Package fedavg implements the two computations that make up one
// round of Federated Averaging: a client-local training pass which
// produces a model delta, and a server-side update which folds an
// aggregated delta into durable server state.
//
// The package contains no transport and no aggregation policy; those
// belong to the orchestration layer (see the fedsim package for an
// in-process one).
package fedavg

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrStructureMismatch is wrapped by errors from operations that
// combine two variable structures whose name sets or shapes differ.
var ErrStructureMismatch = errors.New("variable structures do not match")

// ErrModelConformance is wrapped by errors raised when a model does
// not satisfy the capability set required by a computation.
var ErrModelConformance = errors.New("model does not satisfy the required capabilities")

// ErrNotFinite is wrapped by errors from CheckFinite.
var ErrNotFinite = errors.New("variable data is not finite")

// A Var is a single named model variable: a tensor flattened into a
// float64 vector, plus its shape. A nil or empty shape denotes a
// scalar.
type Var struct {
	Name  string
	Shape []int
	Data  []float64
}

// Elems returns the number of elements implied by the shape.
func (v *Var) Elems() int {
	n := 1
	for _, d := range v.Shape {
		n *= d
	}
	return n
}

// Clone returns a deep copy of the variable.
func (v *Var) Clone() Var {
	res := Var{Name: v.Name}
	if v.Shape != nil {
		res.Shape = append([]int{}, v.Shape...)
	}
	if v.Data != nil {
		res.Data = append([]float64{}, v.Data...)
	}
	return res
}

func (v *Var) shapeEqual(w *Var) bool {
	if len(v.Shape) != len(w.Shape) {
		return false
	}
	for i, d := range v.Shape {
		if w.Shape[i] != d {
			return false
		}
	}
	return true
}

// Vars is an ordered collection of named variables.
//
// Any two Vars that are structurally combined (assigned, subtracted,
// added) must have exactly the same names, order, and shapes.
type Vars []Var

// Clone returns a deep copy of the collection.
func (vs Vars) Clone() Vars {
	if vs == nil {
		return nil
	}
	res := make(Vars, len(vs))
	for i := range vs {
		res[i] = vs[i].Clone()
	}
	return res
}

// Names returns the variable names in order.
func (vs Vars) Names() []string {
	res := make([]string, len(vs))
	for i := range vs {
		res[i] = vs[i].Name
	}
	return res
}

// SameStructure checks that two collections have identical names,
// orders, and shapes.
func SameStructure(a, b Vars) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d variables vs %d", ErrStructureMismatch, len(a), len(b))
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return fmt.Errorf("%w: variable %d is %q vs %q", ErrStructureMismatch, i, a[i].Name, b[i].Name)
		}
		if !a[i].shapeEqual(&b[i]) {
			return fmt.Errorf("%w: variable %q has shape %v vs %v", ErrStructureMismatch,
				a[i].Name, a[i].Shape, b[i].Shape)
		}
	}
	return nil
}

// Sub returns the element-wise difference vs - ws.
func (vs Vars) Sub(ws Vars) (Vars, error) {
	return vs.combine(ws, func(a, b float64) float64 { return a - b })
}

// Add returns the element-wise sum vs + ws.
func (vs Vars) Add(ws Vars) (Vars, error) {
	return vs.combine(ws, func(a, b float64) float64 { return a + b })
}

func (vs Vars) combine(ws Vars, f func(a, b float64) float64) (Vars, error) {
	if err := SameStructure(vs, ws); err != nil {
		return nil, err
	}
	res := vs.Clone()
	for i := range res {
		for j := range res[i].Data {
			res[i].Data[j] = f(vs[i].Data[j], ws[i].Data[j])
		}
	}
	return res, nil
}

// Scale returns a copy of the collection with every element
// multiplied by c.
func (vs Vars) Scale(c float64) Vars {
	res := vs.Clone()
	for i := range res {
		for j := range res[i].Data {
			res[i].Data[j] *= c
		}
	}
	return res
}

// ZerosLike returns a collection with the same names and shapes as
// vs and all elements set to zero.
func ZerosLike(vs Vars) Vars {
	res := vs.Clone()
	for i := range res {
		for j := range res[i].Data {
			res[i].Data[j] = 0
		}
	}
	return res
}

// CheckFinite returns an error if any element of any variable is NaN
// or infinite.
func CheckFinite(vs Vars) error {
	for i := range vs {
		for _, x := range vs[i].Data {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: variable %q", ErrNotFinite, vs[i].Name)
			}
		}
	}
	return nil
}

// normalized deep-copies vs, orders it by name, and validates it:
// names must be unique and every variable's data length must match
// its shape.
func normalized(vs Vars) (Vars, error) {
	res := vs.Clone()
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	for i := range res {
		if i > 0 && res[i].Name == res[i-1].Name {
			return nil, fmt.Errorf("%w: duplicate variable %q", ErrModelConformance, res[i].Name)
		}
		if n := res[i].Elems(); n != len(res[i].Data) {
			return nil, fmt.Errorf("%w: variable %q has %d elements but shape %v implies %d",
				ErrModelConformance, res[i].Name, len(res[i].Data), res[i].Shape, n)
		}
	}
	return res, nil
}

// ModelVars is a value container for the trainable and non-trainable
// variables of a Model, each group ordered by name.
//
// Note this does not include the model's local variables.
//
// A ModelVars never owns the model it was read from; it is a
// snapshot, and may equally hold values that are merely parallel to a
// model's variables (e.g. initial values or deltas).
type ModelVars struct {
	Trainable    Vars
	NonTrainable Vars
}

// Clone returns a deep copy of the container.
func (m ModelVars) Clone() ModelVars {
	return ModelVars{
		Trainable:    m.Trainable.Clone(),
		NonTrainable: m.NonTrainable.Clone(),
	}
}

func sameModelStructure(a, b ModelVars) error {
	if err := SameStructure(a.Trainable, b.Trainable); err != nil {
		return fmt.Errorf("trainable variables: %w", err)
	}
	if err := SameStructure(a.NonTrainable, b.NonTrainable); err != nil {
		return fmt.Errorf("non-trainable variables: %w", err)
	}
	return nil
}

func normalizedModelVars(m ModelVars) (ModelVars, error) {
	t, err := normalized(m.Trainable)
	if err != nil {
		return ModelVars{}, err
	}
	nt, err := normalized(m.NonTrainable)
	if err != nil {
		return ModelVars{}, err
	}
	return ModelVars{Trainable: t, NonTrainable: nt}, nil
}
