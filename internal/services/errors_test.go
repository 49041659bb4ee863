package services_test

import (
	"errors"
	"strings"
	"testing"

	"fieldsync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "authority", "insert", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"authority", "insert", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

type classified struct{ kind string }

func (c classified) Error() string     { return "classified" }
func (c classified) ErrorKind() string { return c.kind }

func TestKindMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "fatal", err: services.Wrap(services.ErrFatal, "store", "put", "", errors.New("disk")), want: "fatal"},
		{name: "capacity", err: services.Wrap(services.ErrCapacity, "audio", "admit", "", nil), want: "capacity"},
		{name: "validation", err: services.Wrap(services.ErrValidation, "authority", "insert", "", nil), want: "validation"},
		{name: "conflict", err: services.Wrap(services.ErrConflict, "conflict", "detect", "", nil), want: "conflict"},
		{name: "classifier", err: classified{kind: "constraint_violation"}, want: "constraint_violation"},
		{name: "plain", err: errors.New("io"), want: "transient"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.want {
				t.Fatalf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !services.IsFatal(services.Wrap(services.ErrFatal, "store", "get", "", nil)) {
		t.Fatal("expected fatal error to be reported")
	}
	if services.IsFatal(errors.New("network down")) {
		t.Fatal("plain error must not be fatal")
	}
}
