package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyAudio = errors.New("empty audio payload")

// Container MIME types recognized by SniffFormat.
const (
	FormatWAV  = "audio/wav"
	FormatMPEG = "audio/mpeg"
	FormatOGG  = "audio/ogg"
	FormatFLAC = "audio/flac"
	FormatMP4  = "audio/mp4"
)

// DecodeBase64 decodes a base64 audio payload. Data URLs ("data:audio/mp3;base64,...")
// are accepted as well as bare payloads.
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return nil, ErrEmptyAudio
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	return data, nil
}

func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// SniffFormat guesses the container of a single-track audio payload from its magic
// bytes. Unknown payloads are reported as MPEG, which is what the synthesis endpoint
// produces by default.
func SniffFormat(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMPEG
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMPEG
	default:
		return FormatMPEG
	}
}
