package proc

import (
	"testing"

	"rpi3visor/kernel/mem/guest"
	"rpi3visor/kernel/trap"
)

func withStubbedDrop(t *testing.T) *int {
	t.Helper()
	calls := new(int)
	prev := dropAddressSpaceFn
	dropAddressSpaceFn = func(*guest.AddressSpace) { *calls++ }
	t.Cleanup(func() { dropAddressSpaceFn = prev })
	return calls
}

func TestAddAssignsSequentialVMIDs(t *testing.T) {
	var s Scheduler
	p0 := newFrameProcess(Ready)
	p1 := newFrameProcess(Ready)

	if id := s.Add(p0); id != 0 {
		t.Fatalf("expected the first Add to return VMID 0; got %d", id)
	}
	if id := s.Add(p1); id != 1 {
		t.Fatalf("expected the second Add to return VMID 1; got %d", id)
	}
	if len(s.processes) != 2 {
		t.Fatalf("expected 2 queued processes; got %d", len(s.processes))
	}
}

func TestAddPanicsOnceVMIDSpaceIsExhausted(t *testing.T) {
	var s Scheduler
	s.lastID = 255

	s.Add(newFrameProcess(Ready)) // consumes VMID 255, sets idExhausted

	defer func() {
		if recover() == nil {
			t.Fatal("expected Add to panic once every VMID has been handed out")
		}
	}()
	s.Add(newFrameProcess(Ready))
}

func TestSwitchToSkipsNotReadyProcessesAndRotatesTheQueue(t *testing.T) {
	var s Scheduler
	notReady := newFrameProcess(Dead)
	ready := newFrameProcess(Ready)
	s.Add(notReady)
	s.Add(ready)

	tf := &trap.Frame{}
	id := s.SwitchTo(tf)

	if id != ready.VMID() {
		t.Fatalf("expected to switch to the ready process's VMID %d; got %d", ready.VMID(), id)
	}
	if ready.State.Kind != Running {
		t.Fatalf("expected the selected process to be marked Running; got %v", ready.State.Kind)
	}
	if s.processes[0] != ready {
		t.Fatal("expected the selected process to be rotated to the front")
	}
}

func TestSwitchSavesOutgoingStateAndRotatesToTheBack(t *testing.T) {
	var s Scheduler
	current := newFrameProcess(Ready)
	next := newFrameProcess(Ready)
	s.Add(current)
	s.Add(next)

	// Select `current` as the running process first.
	tf := &trap.Frame{}
	if id := s.SwitchTo(tf); id != current.VMID() {
		t.Fatalf("expected the first SwitchTo to select VMID %d; got %d", current.VMID(), id)
	}

	tf.ELR = 0xABCD
	id := s.Switch(State{Kind: Ready}, tf)

	if id != next.VMID() {
		t.Fatalf("expected Switch to hand off to VMID %d; got %d", next.VMID(), id)
	}
	if current.Frame.ELR != 0xABCD {
		t.Fatalf("expected the outgoing process's frame to be saved; got %#x", current.Frame.ELR)
	}
	if current.State.Kind != Ready {
		t.Fatalf("expected the outgoing process to be marked Ready; got %v", current.State.Kind)
	}
	if s.processes[len(s.processes)-1] != current {
		t.Fatal("expected the outgoing process to be rotated to the back")
	}
}

func TestKillRemovesTheRunningProcessAndDropsItsAddressSpace(t *testing.T) {
	drops := withStubbedDrop(t)

	var s Scheduler
	dying := newFrameProcess(Ready)
	survivor := newFrameProcess(Ready)
	s.Add(dying)
	s.Add(survivor)

	tf := &trap.Frame{}
	s.SwitchTo(tf) // select `dying` as current

	id, ok := s.Kill(tf)
	if !ok {
		t.Fatal("expected Kill to report success with a running process")
	}
	if id != dying.VMID() {
		t.Fatalf("expected Kill to return VMID %d; got %d", dying.VMID(), id)
	}
	if dying.State.Kind != Dead {
		t.Fatalf("expected the killed process to be marked Dead; got %v", dying.State.Kind)
	}
	if *drops != 1 {
		t.Fatalf("expected the dead process's address space to be dropped once; got %d", *drops)
	}
	for _, p := range s.processes {
		if p == dying {
			t.Fatal("expected the dead process to be removed from the queue")
		}
	}
}

func TestKillReportsFailureOnAnEmptyQueue(t *testing.T) {
	withStubbedDrop(t)
	var s Scheduler
	if _, ok := s.Kill(&trap.Frame{}); ok {
		t.Fatal("expected Kill on an empty queue to report failure")
	}
}
