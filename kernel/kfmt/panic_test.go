package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"rpi3visor/kernel"
)

func TestPanic(t *testing.T) {
	defer func() {
		resetFn = func() {}
		outputSink = nil
	}()

	var resetCalled bool
	resetFn = func() {
		resetCalled = true
	}

	t.Run("with *kernel.Error", func(t *testing.T) {
		resetCalled = false
		var buf bytes.Buffer
		outputSink = &buf
		err := &kernel.Error{Module: "test", Message: "panic test"}

		Panic(err)

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** hypervisor panic: resetting board ***\n-----------------------------------"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !resetCalled {
			t.Fatal("expected board.Reset() to be called by Panic")
		}
	})

	t.Run("with error", func(t *testing.T) {
		resetCalled = false
		var buf bytes.Buffer
		outputSink = &buf
		err := errors.New("go error")

		Panic(err)

		exp := "\n-----------------------------------\n[rt] unrecoverable error: go error\n*** hypervisor panic: resetting board ***\n-----------------------------------"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !resetCalled {
			t.Fatal("expected board.Reset() to be called by Panic")
		}
	})

	t.Run("with string", func(t *testing.T) {
		resetCalled = false
		var buf bytes.Buffer
		outputSink = &buf
		err := "string error"

		Panic(err)

		exp := "\n-----------------------------------\n[rt] unrecoverable error: string error\n*** hypervisor panic: resetting board ***\n-----------------------------------"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !resetCalled {
			t.Fatal("expected board.Reset() to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		resetCalled = false
		var buf bytes.Buffer
		outputSink = &buf

		Panic(nil)

		exp := "\n-----------------------------------\n*** hypervisor panic: resetting board ***\n-----------------------------------"
		if got := buf.String(); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !resetCalled {
			t.Fatal("expected board.Reset() to be called by Panic")
		}
	})
}
