package proc

import (
	"rpi3visor/kernel"
	"rpi3visor/kernel/board"
	"rpi3visor/kernel/cpu"
	"rpi3visor/kernel/mem"
	"rpi3visor/kernel/mem/guest"
	"rpi3visor/kernel/sync"
	"rpi3visor/kernel/trap"
)

var errVMIDExhausted = &kernel.Error{Module: "proc", Message: "VMID space exhausted"}

// dropAddressSpaceFn is a mockable function var (same idiom as
// kernel/sync's coreIDFn and kernel/mem/guest's markNonCacheableFn) so
// Scheduler tests can exercise Kill's bookkeeping without a live,
// hyp-initialized guest.AddressSpace to actually release.
var dropAddressSpaceFn = func(as *guest.AddressSpace) { as.Drop() }

// Scheduler is a single round-robin queue of Processes (spec.md §4.9). The
// zero value is an empty, ready-to-use Scheduler.
type Scheduler struct {
	mu          sync.Mutex
	processes   []*Process
	lastID      ID
	idExhausted bool
}

// Add assigns p the next VMID in sequence and pushes it to the back of the
// queue. It panics (a hypervisor-fatal condition, spec.md §7 band 3) once
// every one of the 256 VMIDs has been handed out.
func (s *Scheduler) Add(p *Process) ID {
	var id ID
	s.mu.WithLock(func() {
		if s.idExhausted {
			panic(errVMIDExhausted)
		}
		id = s.lastID
		p.setVMID(id)
		s.processes = append(s.processes, p)
		if s.lastID == 255 {
			s.idExhausted = true
		} else {
			s.lastID++
		}
	})
	return id
}

// Switch saves tf into the currently running process under newState,
// rotates it to the back of the queue, then blocks until another process
// is ready and restores tf from it. Returns the newly running process's
// VMID.
func (s *Scheduler) Switch(newState State, tf *trap.Frame) ID {
	s.mu.WithLock(func() {
		s.scheduleOut(newState, tf)
	})
	return s.SwitchTo(tf)
}

// scheduleOut saves tf into the front of the queue (the process currently
// running) under newState and rotates it to the back. It is a no-op if the
// queue is empty.
func (s *Scheduler) scheduleOut(newState State, tf *trap.Frame) {
	if len(s.processes) == 0 {
		return
	}
	cur := s.processes[0]
	cur.State = newState
	*cur.Frame = *tf
	s.processes = append(s.processes[1:], cur)
}

// SwitchTo blocks in wfe until some process in the queue is ready, then
// restores it into tf and returns its VMID. Call this directly (skipping
// Switch/scheduleOut) when there was no previously running process to save
// — the initial boot handoff.
func (s *Scheduler) SwitchTo(tf *trap.Frame) ID {
	for {
		if id, ok := s.switchTo(tf); ok {
			return id
		}
		cpu.WaitForEvent()
	}
}

// switchTo scans the queue once for the first Ready (or now-satisfied
// Waiting) process, rotates it to the front, marks it Running, and
// restores its Frame into tf.
func (s *Scheduler) switchTo(tf *trap.Frame) (ID, bool) {
	var id ID
	var ok bool
	s.mu.WithLock(func() {
		for i, p := range s.processes {
			if !p.isReady() {
				continue
			}
			if i > 0 {
				s.processes = append(s.processes[i:], s.processes[:i]...)
			}
			p.State = State{Kind: Running}
			*tf = *p.Frame
			id = p.VMID()
			ok = true
			return
		}
	})
	return id, ok
}

// Kill marks the currently running process Dead, removes it from the
// queue, and releases its address space (spec.md §4.9).
func (s *Scheduler) Kill(tf *trap.Frame) (ID, bool) {
	var id ID
	var ok bool
	s.mu.WithLock(func() {
		if len(s.processes) == 0 {
			return
		}
		cur := s.processes[0]
		cur.State = State{Kind: Dead}
		*cur.Frame = *tf
		id = cur.VMID()
		s.processes = s.processes[1:]
		ok = true
		dropAddressSpaceFn(cur.AddressSpace)
	})
	return id, ok
}

// Current returns the Process at the front of the queue — whichever one the
// last SwitchTo/Switch selected — or nil if the queue is empty. The vector
// table's trap entry point uses this to find the AddressSpace a synchronous
// stage-2 fault should be resolved against.
func (s *Scheduler) Current() *Process {
	var cur *Process
	s.mu.WithLock(func() {
		if len(s.processes) > 0 {
			cur = s.processes[0]
		}
	})
	return cur
}

// HandleTick is the Timer1 IRQ handler driving preemptive round-robin
// scheduling (spec.md §4.9): it re-arms COMPARE[1] one Tick in the future
// before switching, so a process that never yields is still preempted on
// schedule.
func (s *Scheduler) HandleTick(tf *trap.Frame) {
	next := board.Read32(board.TimerCLO) + mem.Tick
	board.Write32(board.TimerCompare+4, next) // COMPARE[1] backs Timer1
	board.Write32(board.TimerCS, board.TimerMatch1)
	s.Switch(State{Kind: Ready}, tf)
}
