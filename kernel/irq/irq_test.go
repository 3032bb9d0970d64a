package irq

import (
	"testing"

	"rpi3visor/kernel/trap"
)

func TestInvokeRunsRegisteredHandler(t *testing.T) {
	defer func() { table = [numLines]Handler{} }()

	var got *trap.Frame
	Register(Timer1, func(tf *trap.Frame) { got = tf })

	tf := &trap.Frame{}
	Invoke(Timer1, tf)

	if got != tf {
		t.Fatal("expected the registered handler to run with the given frame")
	}
}

func TestInvokeNoopsWithoutAHandler(t *testing.T) {
	defer func() { table = [numLines]Handler{} }()

	Invoke(Uart, &trap.Frame{}) // must not panic
}

func TestRegisterReplacesPreviousHandler(t *testing.T) {
	defer func() { table = [numLines]Handler{} }()

	var calls int
	Register(Gpio0, func(*trap.Frame) { calls = 1 })
	Register(Gpio0, func(*trap.Frame) { calls = 2 })

	Invoke(Gpio0, &trap.Frame{})

	if calls != 2 {
		t.Fatalf("expected the second registration to win; got %d", calls)
	}
}
