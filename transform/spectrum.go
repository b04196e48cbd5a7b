package transform

import (
	"github.com/cwbudde/algo-scope/dsp/fft"
	"github.com/cwbudde/algo-scope/dsp/spectrum"
)

func setupSpectrum(t *Transform) error {
	n := t.cfg.FFT.Size
	channels := len(t.cfg.Inputs)

	if t.engine == nil {
		t.engine = fft.New(fft.WithPlanner(t.planner))
	}
	if err := t.engine.Prepare(n, channels); err != nil {
		return err
	}

	m := fft.Bins(n, channels)
	in := t.cfg.Inputs[0]
	fs := in.SampleRate()
	center := 0.0
	if channels == 2 {
		center = fs / 2
	}

	t.x = OwnedAxis(m)
	x := t.x.Data()
	for i := range x {
		x[i] = float64(i)*fs/float64(n) - center
	}

	t.y = OwnedAxis(m)
	spectrum.Reset(t.y.Data())

	t.mag = make([]float64, m)
	t.fftCorr = spectrum.FFTCorrection(in.BitDepth())
	return nil
}

func updateSpectrum(t *Transform) error {
	s := t.cfg.FFT
	n := s.Size

	i := t.cfg.Inputs[0].Data()
	var q []float64
	if len(t.cfg.Inputs) == 2 {
		q = t.cfg.Inputs[1].Data()
		if len(q) < n {
			return ErrShortInput
		}
	}
	if len(i) < n {
		return ErrShortInput
	}

	bins, err := t.engine.Forward(i, q, n)
	if err != nil {
		return err
	}

	y := t.y.Data()
	offset := t.fftCorr + s.PowerOffset + t.correctionDB()
	spectrum.PowerDB(t.mag, bins, len(y), offset)
	spectrum.Accumulate(y, t.mag, s.Average)

	if s.Markers != nil {
		s.Markers.Detect(t.x.Data(), y, len(t.cfg.Inputs) == 2)
	}
	return nil
}

// FFTCorrection returns the full-scale correction of a spectrum transform.
func (t *Transform) FFTCorrection() float64 {
	return t.fftCorr
}
