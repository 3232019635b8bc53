// Package ttesting contains assertion helpers shared by the package tests.
package ttesting

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func AssertEqualInt(t *testing.T, name string, got, want int) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %d; want %d", got, want)
		}
	})
}

func AssertEqualInt64(t *testing.T, name string, got, want int64) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %d; want %d", got, want)
		}
	})
}

func AssertEqualString(t *testing.T, name string, got, want string) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if got != want {
			t.Errorf("got %q; want %q", got, want)
		}
	})
}

func AssertEqualBytes(t *testing.T, name string, got, want []byte) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if !bytes.Equal(got, want) {
			t.Errorf("got % x; want % x", got, want)
		}
	})
}

// AssertErrorIs checks that err matches target as reported by errors.Is.
func AssertErrorIs(t *testing.T, name string, err, target error) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if !errors.Is(err, target) {
			t.Errorf("got error %v; want %v", err, target)
		}
	})
}

func AssertNoError(t *testing.T, name string, err error) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		if err != nil {
			t.Errorf("got error %v; want none", err)
		}
	})
}
