package permissions

import (
	"errors"
	"testing"
)

func TestParseCode(t *testing.T) {
	cases := []struct {
		name     string
		code     string
		resource string
		op       Operation
		wantErr  bool
	}{
		{name: "simple", code: "patients.read", resource: "patients", op: OpRead},
		{name: "trims and lowercases", code: "  Patients.READ ", resource: "patients", op: OpRead},
		{name: "empty", code: "", wantErr: true},
		{name: "no dot", code: "patients", wantErr: true},
		{name: "too many parts", code: "patients.read.all", wantErr: true},
		{name: "empty resource", code: ".read", wantErr: true},
		{name: "empty operation", code: "patients.", wantErr: true},
		{name: "only dot", code: ".", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resource, op, err := ParseCode(tc.code)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidCodeFormat) {
					t.Fatalf("ParseCode(%q) error = %v, want ErrInvalidCodeFormat", tc.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCode(%q) unexpected error: %v", tc.code, err)
			}
			if resource != tc.resource || op != tc.op {
				t.Fatalf("ParseCode(%q) = (%q, %q), want (%q, %q)", tc.code, resource, op, tc.resource, tc.op)
			}
		})
	}
}

func TestOperationValid(t *testing.T) {
	for _, op := range Operations() {
		if !op.Valid() {
			t.Errorf("operation %q should be valid", op)
		}
	}
	for _, op := range []Operation{"", "READ", "destroy", "read "} {
		if op.Valid() {
			t.Errorf("operation %q should be invalid", op)
		}
	}
}

func TestPermissionCode(t *testing.T) {
	p := Permission{ResourceKey: "appointments", Operation: OpApprove}
	if got := p.Code(); got != "appointments.approve" {
		t.Fatalf("Code() = %q, want %q", got, "appointments.approve")
	}
}
