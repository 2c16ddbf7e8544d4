package nicinit

import (
	"context"
	"errors"
	"testing"
)

func TestHTMode(t *testing.T) {
	cases := []struct {
		bw   int
		want string
	}{
		{10, "10MHz"},
		{20, "HT20"},
		{40, "HT40+"},
		{80, "80MHz"},
		{160, "160MHz"},
	}
	for _, c := range cases {
		got, err := HTMode(c.bw)
		if err != nil {
			t.Errorf("HTMode(%d): %v", c.bw, err)
		}
		if got != c.want {
			t.Errorf("HTMode(%d) = %q, want %q", c.bw, got, c.want)
		}
	}

	if _, err := HTMode(30); err == nil {
		t.Errorf("HTMode(30) accepted")
	}
}

func TestExecCapturesFailure(t *testing.T) {
	err := Exec(context.Background(), "sh", "-c", "echo some stdout; echo some stderr >&2; exit 2")
	if err == nil {
		t.Fatalf("expected failure")
	}
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %T, want *ExecError", err)
	}
	if execErr.Stdout != "some stdout\n" {
		t.Errorf("stdout = %q", execErr.Stdout)
	}
	if execErr.Stderr != "some stderr\n" {
		t.Errorf("stderr = %q", execErr.Stderr)
	}
}

func TestExecSuccess(t *testing.T) {
	if err := Exec(context.Background(), "true"); err != nil {
		t.Errorf("Exec(true) = %v", err)
	}
}
