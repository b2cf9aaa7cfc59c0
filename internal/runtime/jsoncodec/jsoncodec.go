// Package jsoncodec is the single JSON entry point for event payloads and
// HTTP responses. It uses sonic in standard-library compatible mode.
package jsoncodec

import (
	"bytes"
	"errors"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// ErrNotObject is returned by UnmarshalObject for valid JSON that is not an
// object (arrays, strings, numbers, null).
var ErrNotObject = errors.New("jsoncodec: payload is not a JSON object")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalObject decodes data into a generic field map. Numbers decode to
// float64.
func UnmarshalObject(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	if trimmed[0] != '{' {
		if !defaultConfig.Valid(trimmed) {
			var scratch any
			if err := defaultConfig.Unmarshal(trimmed, &scratch); err != nil {
				return nil, err
			}
		}
		return nil, ErrNotObject
	}
	fields := make(map[string]any)
	if err := defaultConfig.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}
