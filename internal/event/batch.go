package event

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotArray is returned when a log batch is valid JSON but not an array.
	ErrNotArray = errors.New("log batch is not a JSON array")
	// ErrMalformedRecord is returned for invalid JSON or a non-object record.
	ErrMalformedRecord = errors.New("malformed log record")
)

// DecodeBatch parses a JSON array of log records. An empty array is a valid,
// empty batch.
func DecodeBatch(data []byte) ([]Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedRecord)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w (got %s)", ErrNotArray, kindOf(root))
	}

	items := root.Array()
	batch := make([]Event, 0, len(items))
	for i, item := range items {
		var ev Event
		if err := ev.UnmarshalJSON([]byte(item.Raw)); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		batch = append(batch, ev)
	}
	return batch, nil
}
