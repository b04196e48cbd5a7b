package transform

// Input is a sample array a transform reads from, typically a capture
// channel.
type Input interface {
	Data() []float64
	BitDepth() int
	SampleRate() float64
}

// Axis is one plot axis. It either owns its buffer or is a view of an
// input's current array; releasing a view never touches the input.
type Axis struct {
	owned []float64
	view  Input
	n     int
}

// OwnedAxis returns an axis with a fresh buffer of n values.
func OwnedAxis(n int) Axis {
	return Axis{owned: make([]float64, n)}
}

// ViewAxis returns an axis reading the first n values of in's array. The
// channel array may be longer when another plot requests a greater depth.
func ViewAxis(in Input, n int) Axis {
	return Axis{view: in, n: n}
}

// Data returns the axis values.
func (a Axis) Data() []float64 {
	if a.view != nil {
		d := a.view.Data()
		return d[:min(a.n, len(d))]
	}
	return a.owned
}

// Len returns the number of values currently visible.
func (a Axis) Len() int {
	return len(a.Data())
}

// Owned reports whether the axis holds its own buffer.
func (a Axis) Owned() bool {
	return a.view == nil && a.owned != nil
}

// release drops the axis. A view forgets its input; an owned buffer is left
// to the garbage collector so renderers holding it stay valid.
func (a *Axis) release() {
	a.owned = nil
	a.view = nil
}
