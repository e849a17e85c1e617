package voice

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chriscow/livekit-voice-agent/pkg/audio/wav"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// Ambience is a looping background bed mixed under the agent's replies.
type Ambience struct {
	mu       sync.Mutex
	volume   float64
	frames   []rtc.AudioFrame
	position int
}

// LoadAmbience reads a 16-bit PCM WAV file.
func LoadAmbience(path string, volume float64) (*Ambience, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ambience: %w", err)
	}
	defer f.Close()
	return NewAmbience(f, volume)
}

// NewAmbience decodes WAV data from r. Volume is clamped to [0, 1].
func NewAmbience(r io.Reader, volume float64) (*Ambience, error) {
	_, frames, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode ambience: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("decode ambience: no audio")
	}
	return &Ambience{volume: min(max(volume, 0), 1), frames: frames}, nil
}

// next returns the next bed frame, looping at the end.
func (a *Ambience) next() rtc.AudioFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	f := a.frames[a.position]
	a.position = (a.position + 1) % len(a.frames)
	return f
}

// Mix adds the next bed frame, scaled by the volume, to fg. The bed is
// converted to fg's rate; fg must be mono.
func (a *Ambience) Mix(fg rtc.AudioFrame) rtc.AudioFrame {
	if a == nil || a.volume == 0 {
		return fg
	}
	bg := a.next()
	if bg.SampleRate != fg.SampleRate || bg.NumChannels != 1 {
		bg = rtc.Resample(bg, fg.SampleRate)
	}

	out := fg
	out.Data = make([]byte, len(fg.Data))
	for i := 0; i+1 < len(fg.Data); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(fg.Data[i:])))
		if i+1 < len(bg.Data) {
			b := float64(int16(binary.LittleEndian.Uint16(bg.Data[i:])))
			s += int32(b * a.volume)
		}
		s = min(max(s, -32768), 32767)
		binary.LittleEndian.PutUint16(out.Data[i:], uint16(int16(s)))
	}
	return out
}
