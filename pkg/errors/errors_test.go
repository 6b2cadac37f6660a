package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if !strings.Contains(err.Error(), "test error") {
		t.Errorf("Expected error message to contain 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("Expected error message to contain 'wrapped', got: %s", err.Error())
	}

	if !strings.Contains(err.Error(), "base error") {
		t.Errorf("Expected error message to contain 'base error', got: %s", err.Error())
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "wrapped"); err != nil {
		t.Errorf("Wrap(nil) should return nil, got: %v", err)
	}
}

func TestWithField(t *testing.T) {
	err := New("test error").WithField("key", "value")

	fields := err.GetFields()
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}

	if fields["key"] != "value" {
		t.Errorf("Expected field['key'] = 'value', got: %v", fields["key"])
	}
}

func TestSentinelMatching(t *testing.T) {
	cases := []struct {
		name     string
		err      *Error
		sentinel error
		code     string
	}{
		{"permission denied", NewPermissionDenied("mic access missing"), ErrPermissionDenied, "PERMISSION_DENIED"},
		{"recognizer denied", NewRecognizerDenied("speech access missing"), ErrRecognizerDenied, "RECOGNIZER_DENIED"},
		{"device failure", NewDeviceFailure("input unavailable"), ErrDeviceFailure, "DEVICE_FAILURE"},
		{"invalid input", NewInvalidInput("empty phrase list"), ErrInvalidInput, "INVALID_INPUT"},
		{"already in progress", NewAlreadyInProgress("calibration running"), ErrAlreadyInProgress, "ALREADY_IN_PROGRESS"},
		{"storage failure", NewStorageFailure("write failed"), ErrStorageFailure, "STORAGE_FAILURE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.sentinel) {
				t.Errorf("errors.Is should match sentinel for %s", tc.name)
			}
			if tc.err.GetCode() != tc.code {
				t.Errorf("Expected code %s, got %s", tc.code, tc.err.GetCode())
			}
		})
	}
}

func TestWrappedSentinelMatching(t *testing.T) {
	err := Wrap(NewDeviceFailure("input stream failed"), "starting capture")

	if !errors.Is(err, ErrDeviceFailure) {
		t.Error("wrapped device failure should still match ErrDeviceFailure")
	}
}

func TestAsJSON(t *testing.T) {
	err := NewStorageFailure("disk full").WithField("path", "/tmp/cache")

	m := err.AsJSON()
	if m["code"] != "STORAGE_FAILURE" {
		t.Errorf("Expected STORAGE_FAILURE code in JSON map, got: %v", m["code"])
	}
	if m["context"] == nil {
		t.Error("Expected context fields in JSON map")
	}
}
