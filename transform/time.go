package transform

import "errors"

// ErrShortInput is returned by Update when an input holds fewer samples
// than the transform reads, for example after its buffer was released.
var ErrShortInput = errors.New("input shorter than configured depth")

// inverseOfZero replaces 1/0 in inverted time traces.
const inverseOfZero = 65535

func setupTime(t *Transform) error {
	n := t.cfg.Samples

	t.x = OwnedAxis(n)
	x := t.x.Data()
	for i := range x {
		x[i] = float64(i)
	}

	if t.cfg.Time.postProcessed() {
		t.y = OwnedAxis(n)
	} else {
		t.y = ViewAxis(t.cfg.Inputs[0], n)
	}
	return nil
}

func updateTime(t *Transform) error {
	if !t.y.Owned() {
		return nil
	}

	s := t.cfg.Time
	y := t.y.Data()
	src := t.cfg.Inputs[0].Data()
	if len(src) < len(y) {
		return ErrShortInput
	}

	for i := range y {
		v := src[i]
		if s.Inverse {
			if v != 0 {
				v = 1 / v
			} else {
				v = inverseOfZero
			}
		}
		if s.Multiply {
			v *= s.MultiplyBy
		}
		if s.Add {
			v += s.AddValue
		}
		y[i] = v
	}
	return nil
}

func setupConstellation(t *Transform) error {
	t.x = ViewAxis(t.cfg.Inputs[0], t.cfg.Samples)
	t.y = ViewAxis(t.cfg.Inputs[1], t.cfg.Samples)
	return nil
}
