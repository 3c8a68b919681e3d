package interp

import (
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/binding"
)

// FrameID indexes a frame in its interpreter's arena.
type FrameID int

// NoFrame is the caller of a root frame and the child of a leaf.
const NoFrame FrameID = -1

type pendingKind uint8

const (
	pendingNone pendingKind = iota
	pendingIf
	pendingWhile
)

// Frame is one activation of an action script: its roles, program
// counter and timing. Frames link to their caller and current child by ID.
type Frame struct {
	id     FrameID
	entry  *actiondb.Entry // nil for transient exit frames
	caller FrameID
	child  FrameID
	roles  *binding.Set

	pc          int
	jumpStack   []int
	status      bool
	childStatus bool
	done        bool
	started     bool
	condition   bool // evaluating an if/while head; failure stays local
	pending     pendingKind

	heldLocks []string
	start     time.Time
	deadline  time.Time
	waitUntil time.Time
	waitCond  []string
}

// ID returns the frame's arena index.
func (f *Frame) ID() FrameID { return f.id }

// Entry returns the action this frame runs, or nil for a transient frame.
func (f *Frame) Entry() *actiondb.Entry { return f.entry }

// Caller returns the invoking frame, or NoFrame for the root.
func (f *Frame) Caller() FrameID { return f.caller }

// Child returns the frame currently running on behalf of this one.
func (f *Frame) Child() FrameID { return f.child }

// Roles returns the frame's bindings.
func (f *Frame) Roles() *binding.Set { return f.roles }

// PC returns the index of the next event.
func (f *Frame) PC() int { return f.pc }

// JumpStack returns a copy of the saved loop heads.
func (f *Frame) JumpStack() []int {
	out := make([]int, len(f.jumpStack))
	copy(out, f.jumpStack)
	return out
}

// Status is the frame's success flag. It starts true.
func (f *Frame) Status() bool { return f.status }

// ChildStatus is the result of the most recently finished child.
func (f *Frame) ChildStatus() bool { return f.childStatus }

// Done reports whether the frame has terminated.
func (f *Frame) Done() bool { return f.done }

// Start returns when the frame's timing window opened.
func (f *Frame) Start() time.Time { return f.start }

// Deadline returns the frame's deadline; the zero time means none.
func (f *Frame) Deadline() time.Time { return f.deadline }

// HeldLocks returns the names of locks the frame acquired and still holds.
func (f *Frame) HeldLocks() []string {
	out := make([]string, len(f.heldLocks))
	copy(out, f.heldLocks)
	return out
}

func (f *Frame) events() [][]string {
	if f.entry == nil {
		return nil
	}
	return f.entry.Events()
}

func (f *Frame) action() string {
	if f.entry == nil {
		return ""
	}
	return f.entry.Type()
}

func (i *Interpreter) newFrame(e *actiondb.Entry, caller FrameID) *Frame {
	f := &Frame{
		id:     FrameID(len(i.frames)),
		entry:  e,
		caller: caller,
		child:  NoFrame,
		status: true,
		roles:  &binding.Set{},
	}
	if e != nil {
		f.roles = binding.NewSet(e.Roles())
	}
	i.frames = append(i.frames, f)
	return f
}

// Frame returns the frame with the given ID, or nil.
func (i *Interpreter) Frame(id FrameID) *Frame {
	if id < 0 || int(id) >= len(i.frames) {
		return nil
	}
	return i.frames[id]
}

// Current returns the frame Step will work on next.
func (i *Interpreter) Current() FrameID { return i.current }

// Root returns the goal's top frame.
func (i *Interpreter) Root() FrameID { return i.root }
