// Package envelope parses and validates the one-line JSON request envelope
// a client sends immediately after connecting (spec.md §6).
package envelope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	cerrors "github.com/benkietzman/portconcentrator/pkg/errors"
)

// Request is the flattened view of one parsed envelope: the four
// recognized keys plus everything else preserved verbatim for accounting.
type Request struct {
	Service  string
	Throttle int
	Server   string
	Port     string

	// Fields holds every key from the envelope, including the recognized
	// ones, as strings — mirroring the original's flatten-to-map step so
	// unrecognized keys ride along into accounting untouched.
	Fields map[string]string
}

// Parse decodes one newline-terminated JSON object into a flat string map,
// matching original_source/concentrator.cpp's Json::flatten(request, true,
// false) step. Non-string scalar values are stringified; nested objects and
// arrays are rejected, since the envelope is documented as flat.
func Parse(line []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, cerrors.Wrap(err, "decode envelope")
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := scalarToString(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = s
	}
	return fields, nil
}

func scalarToString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("not a flat scalar value")
}

// Validate checks the flattened field map against spec.md §4.2 step 4:
// Service present and non-empty; Throttle present and a positive integer;
// if Server is present and non-empty, Port must also be present and
// non-empty. On success it returns the structured Request.
func Validate(fields map[string]string) (Request, error) {
	service := strings.TrimSpace(fields["Service"])
	if service == "" {
		return Request{}, fmt.Errorf("%w: missing Service", cerrors.ErrInvalidEnvelope)
	}

	throttleStr, ok := fields["Throttle"]
	if !ok || strings.TrimSpace(throttleStr) == "" {
		return Request{}, fmt.Errorf("%w: missing Throttle", cerrors.ErrInvalidEnvelope)
	}
	throttle, err := strconv.Atoi(strings.TrimSpace(throttleStr))
	if err != nil || throttle <= 0 {
		return Request{}, fmt.Errorf("%w: Throttle must be a positive integer", cerrors.ErrInvalidEnvelope)
	}

	server := fields["Server"]
	port := fields["Port"]
	if server != "" && port == "" {
		return Request{}, fmt.Errorf("%w: Server given without Port", cerrors.ErrInvalidEnvelope)
	}

	return Request{
		Service:  service,
		Throttle: throttle,
		Server:   server,
		Port:     port,
		Fields:   fields,
	}, nil
}
