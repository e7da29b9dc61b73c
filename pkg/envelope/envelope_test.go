package envelope

import (
	"errors"
	"testing"

	cerrors "github.com/benkietzman/portconcentrator/pkg/errors"
)

func TestParseAndValidateHappyPath(t *testing.T) {
	line := []byte(`{"Service":"A","Throttle":"1","Server":"127.0.0.1","Port":"9000"}`)
	fields, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	req, err := Validate(fields)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.Service != "A" || req.Throttle != 1 || req.Server != "127.0.0.1" || req.Port != "9000" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestValidateMissingThrottle(t *testing.T) {
	fields := map[string]string{"Service": "A"}
	if _, err := Validate(fields); !errors.Is(err, cerrors.ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestValidateZeroThrottle(t *testing.T) {
	fields := map[string]string{"Service": "A", "Throttle": "0"}
	if _, err := Validate(fields); !errors.Is(err, cerrors.ErrInvalidEnvelope) {
		t.Fatalf("expected rejection of non-positive throttle")
	}
}

func TestValidateServerWithoutPort(t *testing.T) {
	fields := map[string]string{"Service": "A", "Throttle": "1", "Server": "127.0.0.1"}
	if _, err := Validate(fields); !errors.Is(err, cerrors.ErrInvalidEnvelope) {
		t.Fatalf("expected rejection of Server without Port")
	}
}

func TestValidateEmptyService(t *testing.T) {
	fields := map[string]string{"Service": "  ", "Throttle": "1"}
	if _, err := Validate(fields); !errors.Is(err, cerrors.ErrInvalidEnvelope) {
		t.Fatalf("expected rejection of blank Service")
	}
}

func TestParseRejectsNestedValue(t *testing.T) {
	line := []byte(`{"Service":"A","Throttle":"1","Nested":{"x":1}}`)
	if _, err := Parse(line); err == nil {
		t.Fatalf("expected rejection of nested (non-flat) value")
	}
}

func TestUnrecognizedKeysPreserved(t *testing.T) {
	line := []byte(`{"Service":"A","Throttle":"1","Server":"h","Port":"1","Custom":"x"}`)
	fields, err := Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	req, err := Validate(fields)
	if err != nil {
		t.Fatal(err)
	}
	if req.Fields["Custom"] != "x" {
		t.Fatalf("expected unrecognized key preserved, got %+v", req.Fields)
	}
}
