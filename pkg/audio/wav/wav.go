// Package wav encodes and decodes 16-bit PCM WAV data in memory.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// Header represents a WAV file header.
type Header struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// ErrFormat is returned for input that is not 16-bit PCM WAV.
var ErrFormat = errors.New("unsupported wav format")

// Encode writes a canonical 44-byte header followed by pcm.
func Encode(w io.Writer, pcm []byte, sampleRate, numChannels int) error {
	const bitsPerSample = 16
	blockAlign := numChannels * bitsPerSample / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// EncodeFrames concatenates frames into a WAV buffer. All frames must share
// the first frame's format.
func EncodeFrames(frames []rtc.AudioFrame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames to encode")
	}
	rate, channels := frames[0].SampleRate, frames[0].NumChannels

	var pcm bytes.Buffer
	for i, f := range frames {
		if f.SampleRate != rate || f.NumChannels != channels {
			return nil, fmt.Errorf("frame %d: format %dHz/%d differs from %dHz/%d", i, f.SampleRate, f.NumChannels, rate, channels)
		}
		pcm.Write(f.Data)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, pcm.Bytes(), rate, channels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a WAV stream and splits its data into 10 ms frames; the final
// frame is zero padded.
func Decode(r io.Reader) (Header, []rtc.AudioFrame, error) {
	var hdr Header

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return hdr, nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return hdr, nil, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrFormat)
	}

	var sawFmt bool
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return hdr, nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return hdr, nil, fmt.Errorf("%w: fmt chunk too small", ErrFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return hdr, nil, err
			}
			if binary.LittleEndian.Uint16(body[0:2]) != 1 {
				return hdr, nil, fmt.Errorf("%w: not PCM", ErrFormat)
			}
			hdr.NumChannels = binary.LittleEndian.Uint16(body[2:4])
			hdr.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			hdr.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			if hdr.BitsPerSample != 16 {
				return hdr, nil, fmt.Errorf("%w: %d-bit samples", ErrFormat, hdr.BitsPerSample)
			}
			sawFmt = true

		case "data":
			if !sawFmt {
				return hdr, nil, fmt.Errorf("%w: data before fmt", ErrFormat)
			}
			hdr.DataSize = size
			pcm := make([]byte, size)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return hdr, nil, fmt.Errorf("read data: %w", err)
			}
			fr := rtc.NewFramer(int(hdr.SampleRate), int(hdr.NumChannels))
			frames := fr.Write(pcm)
			if last, ok := fr.Flush(); ok {
				frames = append(frames, last)
			}
			return hdr, frames, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return hdr, nil, err
			}
		}
	}
}
