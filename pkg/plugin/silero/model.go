package silero

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/livekit-voice-agent/internal/onnx"
)

const (
	windowSize  = 512 // samples per inference at 16 kHz
	contextSize = 64  // trailing samples of the previous window
	stateSize   = 2 * 1 * 128

	energyThreshold = 0.02
)

// prober turns a 512-sample window into a speech probability.
type prober interface {
	Prob(window []float32) (float32, error)
	Reset()
	Close() error
}

// onnxModel runs the silero v5 graph with preallocated tensors.
type onnxModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	state   *ort.Tensor[float32]
	sr      *ort.Scalar[int64]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]
	context []float32
}

func loadModel(path string) (*onnxModel, error) {
	if err := onnx.Init(); err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}

	m := &onnxModel{context: make([]float32, contextSize)}
	var err error
	if m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize+contextSize)); err != nil {
		return nil, err
	}
	if m.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		m.Close()
		return nil, err
	}
	if m.sr, err = ort.NewScalar[int64](SampleRate); err != nil {
		m.Close()
		return nil, err
	}
	if m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		m.Close()
		return nil, err
	}
	if m.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		m.Close()
		return nil, err
	}

	options, err := onnx.SessionOptions()
	if err != nil {
		m.Close()
		return nil, err
	}
	defer options.Destroy()

	m.session, err = ort.NewAdvancedSession(path,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{m.input, m.state, m.sr},
		[]ort.Value{m.output, m.stateN},
		options)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return m, nil
}

func (m *onnxModel) Prob(window []float32) (float32, error) {
	in := m.input.GetData()
	copy(in, m.context)
	copy(in[contextSize:], window)

	if err := m.session.Run(); err != nil {
		return 0, err
	}
	copy(m.state.GetData(), m.stateN.GetData())
	copy(m.context, window[len(window)-contextSize:])
	return m.output.GetData()[0], nil
}

func (m *onnxModel) Reset() {
	clear(m.state.GetData())
	clear(m.context)
}

func (m *onnxModel) Close() error {
	if m.session != nil {
		m.session.Destroy()
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.state, m.output, m.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	if m.sr != nil {
		m.sr.Destroy()
	}
	return nil
}

// energyProber maps window RMS to a hard 0 or 1. Used when no model is available.
type energyProber struct{}

func (energyProber) Prob(window []float32) (float32, error) {
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	if math.Sqrt(sum/float64(len(window))) >= energyThreshold {
		return 1, nil
	}
	return 0, nil
}

func (energyProber) Reset()       {}
func (energyProber) Close() error { return nil }
