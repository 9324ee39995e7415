package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed marks envelopes that fail validation on decode. Callers can
// match it with errors.Is.
var ErrMalformed = errors.New("malformed envelope")

// Encode serializes an envelope as a single JSON line and writes it to w.
func Encode(w io.Writer, env *Envelope) error {
	if err := validate(env); err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return nil
}

// Decode reads one JSON envelope from r and validates it.
func Decode(r io.Reader) (*Envelope, error) {
	var env Envelope
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Marshal serializes an envelope to a JSON byte slice.
func Marshal(env *Envelope) ([]byte, error) {
	if err := validate(env); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal parses and validates an envelope from a JSON byte slice.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func validate(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if !env.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrMalformed, string(env.Type))
	}
	if env.InstanceID == "" {
		return fmt.Errorf("%w: missing instance_id", ErrMalformed)
	}
	if env.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	return nil
}
