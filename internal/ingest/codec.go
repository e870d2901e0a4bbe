package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"stationmon/internal/domain"
)

// payload is one decoded ingest request.
type payload struct {
	readings []domain.Reading
	batch    bool
}

// decodePayload auto-detects batch vs single reading.
// Params: raw JSON bytes with one object or array.
// Returns: validated readings and batch flag, or decode error.
func decodePayload(raw []byte) (payload, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return payload{}, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	if body[0] == '[' {
		readings, err := domain.DecodeReadingsReader(decoder)
		if err != nil {
			return payload{}, err
		}
		if err := ensureJSONEOF(decoder); err != nil {
			return payload{}, err
		}
		return payload{readings: readings, batch: true}, nil
	}

	reading, err := domain.DecodeReadingReader(decoder)
	if err != nil {
		return payload{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return payload{}, err
	}
	return payload{readings: []domain.Reading{reading}}, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
