// Package rtc holds the PCM audio frame type shared by the transport and the
// speech providers, plus the small conversions they need.
package rtc

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// FrameDuration is the nominal frame size used by the transport and the VAD.
const FrameDuration = 10 * time.Millisecond

// AudioFrame is a block of interleaved 16-bit little-endian PCM.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it is the offset from stream start.
type AudioFrame struct {
	Data              []byte
	SampleRate        int
	SamplesPerChannel int
	NumChannels       int
	Timestamp         time.Duration
}

// NewAudioFrame creates a 10 ms frame and validates the data length.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2

	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// FromSamples builds a frame from interleaved samples.
func FromSamples(samples []int16, sampleRate, numChannels int) AudioFrame {
	if numChannels <= 0 {
		numChannels = 1
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: len(samples) / numChannels,
		NumChannels:       numChannels,
	}
}

// Samples decodes Data into interleaved int16 samples.
func (f AudioFrame) Samples() []int16 {
	out := make([]int16, len(f.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	return out
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the playback duration of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// RMS returns the normalized root-mean-square level of the frame in [0,1].
func (f AudioFrame) RMS() float64 {
	n := len(f.Data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(f.Data[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// Resample converts a mono frame to the target rate with linear interpolation.
// Frames with more than one channel are downmixed first.
func Resample(f AudioFrame, targetRate int) AudioFrame {
	samples := f.Samples()
	if f.NumChannels > 1 {
		samples = downmix(samples, f.NumChannels)
	}
	if f.SampleRate == targetRate || f.SampleRate <= 0 || len(samples) == 0 {
		out := FromSamples(samples, f.SampleRate, 1)
		out.Timestamp = f.Timestamp
		return out
	}

	outLen := len(samples) * targetRate / f.SampleRate
	out := make([]int16, outLen)
	ratio := float64(f.SampleRate) / float64(targetRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := a
		if idx+1 < len(samples) {
			b = float64(samples[idx+1])
		}
		out[i] = int16(a + (b-a)*frac)
	}

	frame := FromSamples(out, targetRate, 1)
	frame.Timestamp = f.Timestamp
	return frame
}

func downmix(samples []int16, channels int) []int16 {
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Framer slices an arbitrary PCM byte stream into fixed 10 ms frames.
// Providers that receive audio in network-sized chunks push through a Framer
// so downstream consumers always see whole frames.
type Framer struct {
	sampleRate  int
	numChannels int
	frameBytes  int
	buf         []byte
	elapsed     time.Duration
}

// NewFramer returns a Framer for mono or interleaved PCM at sampleRate.
func NewFramer(sampleRate, numChannels int) *Framer {
	if numChannels <= 0 {
		numChannels = 1
	}
	return &Framer{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		frameBytes:  sampleRate / 100 * numChannels * 2,
	}
}

// Write appends PCM bytes and returns every complete frame now available.
func (fr *Framer) Write(pcm []byte) []AudioFrame {
	fr.buf = append(fr.buf, pcm...)
	var frames []AudioFrame
	for len(fr.buf) >= fr.frameBytes {
		data := make([]byte, fr.frameBytes)
		copy(data, fr.buf[:fr.frameBytes])
		fr.buf = fr.buf[fr.frameBytes:]
		frames = append(frames, fr.frame(data))
	}
	return frames
}

// Flush returns the remaining partial frame, zero padded, if any.
func (fr *Framer) Flush() (AudioFrame, bool) {
	if len(fr.buf) == 0 {
		return AudioFrame{}, false
	}
	data := make([]byte, fr.frameBytes)
	copy(data, fr.buf)
	fr.buf = fr.buf[:0]
	return fr.frame(data), true
}

func (fr *Framer) frame(data []byte) AudioFrame {
	f := AudioFrame{
		Data:              data,
		SampleRate:        fr.sampleRate,
		SamplesPerChannel: fr.sampleRate / 100,
		NumChannels:       fr.numChannels,
		Timestamp:         fr.elapsed,
	}
	fr.elapsed += FrameDuration
	return f
}
