package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mixdeck-audio/mixdeck-go/pkg/state"
)

// handleSet turns one set publish into a field write. The outcome is
// not acknowledged on the set topic: an accepted value comes back
// through the state topic once the device applies it. Runs on a paho
// receive goroutine.
func (b *Bridge) handleSet(topic string, payload []byte) {
	serial, path, ok := b.topics.parseSet(topic)
	if !ok {
		b.logger.Warn("ignoring malformed set topic", "topic", topic)
		return
	}

	value, err := decodeValue(payload)
	if err != nil {
		b.logger.Warn("ignoring set payload", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, setTimeout)
	defer cancel()

	if err := b.svc.SetField(ctx, serial, state.Field(path), value); err != nil {
		b.logger.Warn("set rejected", "device", serial, "path", path, "error", err)
		return
	}
	b.logger.Debug("set applied", "device", serial, "path", path, "value", value)
}

// decodeValue parses a set payload. Payloads are JSON scalars; numbers
// become int64 when integral. Anything that is not valid JSON is taken
// as a bare string so hand-typed publishes still work, and the field
// registry stays the authority on whether the value fits the path.
func decodeValue(payload []byte) (any, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, errors.New("empty payload")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return trimmed, nil
	}

	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unsupported number %q", n.String())
	case bool, string:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}
