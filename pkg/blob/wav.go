package blob

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/waveq/waveq-engine/pkg/audio"
)

// PCM16 RIFF/WAVE. Samples are interleaved across channels.

const (
	riffHeaderSize = 44
	bitsPerSample  = 16
)

func encodeWAV(w io.Writer, buf *audio.Buffer) error {
	if buf.Channels <= 0 || buf.SampleRate <= 0 {
		return fmt.Errorf("encode wav: invalid buffer (%d ch, %d Hz)", buf.Channels, buf.SampleRate)
	}

	dataSize := len(buf.Samples) * 2
	blockAlign := buf.Channels * bitsPerSample / 8
	byteRate := buf.SampleRate * blockAlign

	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	binary.Write(&hdr, binary.LittleEndian, uint32(riffHeaderSize-8+dataSize))
	hdr.WriteString("WAVE")
	hdr.WriteString("fmt ")
	binary.Write(&hdr, binary.LittleEndian, uint32(16))
	binary.Write(&hdr, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&hdr, binary.LittleEndian, uint16(buf.Channels))
	binary.Write(&hdr, binary.LittleEndian, uint32(buf.SampleRate))
	binary.Write(&hdr, binary.LittleEndian, uint32(byteRate))
	binary.Write(&hdr, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&hdr, binary.LittleEndian, uint16(bitsPerSample))
	hdr.WriteString("data")
	binary.Write(&hdr, binary.LittleEndian, uint32(dataSize))
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	pcm := make([]byte, dataSize)
	for i, s := range buf.Samples {
		v := int16(math.Round(clampSample(s) * math.MaxInt16))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	_, err := w.Write(pcm)
	return err
}

func decodeWAV(r io.Reader) (*audio.Buffer, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("decode wav: not a RIFF/WAVE stream")
	}

	var (
		channels   int
		sampleRate int
		data       []byte
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		size := binary.LittleEndian.Uint32(chunk[4:])
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}

		switch string(chunk[0:4]) {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("decode wav: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:])
			if format != 1 {
				return nil, fmt.Errorf("decode wav: unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:]))
			if bits := binary.LittleEndian.Uint16(body[14:]); bits != bitsPerSample {
				return nil, fmt.Errorf("decode wav: unsupported bit depth %d", bits)
			}
		case "data":
			data = body
		}
		// Chunks are word-aligned.
		if size%2 == 1 {
			io.CopyN(io.Discard, r, 1)
		}
	}

	if channels == 0 || sampleRate == 0 {
		return nil, fmt.Errorf("decode wav: missing fmt chunk")
	}
	if data == nil {
		return nil, fmt.Errorf("decode wav: missing data chunk")
	}

	samples := make([]float64, len(data)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / math.MaxInt16
	}
	return &audio.Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
		Format:     "wav",
	}, nil
}

func clampSample(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
