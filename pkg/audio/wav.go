package audio

import (
	"bytes"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV serializes mono float samples as a 16-bit PCM WAV blob
func EncodeWAV(samples []float64, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	buf := &writeSeekBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}

	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return nil, fmt.Errorf("writing PCM data: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing WAV: %w", err)
	}

	return buf.data, nil
}

// DecodeWAV parses a WAV blob back into mono float samples and a sample rate.
// Multi-channel audio keeps only the first channel.
func DecodeWAV(data []byte) ([]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding WAV: %w", err)
	}
	if pcm == nil || pcm.Format == nil {
		return nil, 0, fmt.Errorf("decoding WAV: no PCM data")
	}

	channels := pcm.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	scale := 1 << (uint(pcm.SourceBitDepth) - 1)
	if pcm.SourceBitDepth == 0 {
		scale = 1 << 15
	}

	samples := make([]float64, 0, len(pcm.Data)/channels)
	for i := 0; i < len(pcm.Data); i += channels {
		samples = append(samples, float64(pcm.Data[i])/float64(scale))
	}

	return samples, pcm.Format.SampleRate, nil
}

// writeSeekBuffer adapts an in-memory byte slice to io.WriteSeeker for the
// WAV encoder, which seeks back to patch chunk sizes.
type writeSeekBuffer struct {
	data []byte
	pos  int
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}

	if pos < 0 {
		return 0, fmt.Errorf("negative seek position: %d", pos)
	}

	b.pos = int(pos)
	return pos, nil
}
