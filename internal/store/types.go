package store

import "strings"

// ObjectID identifies the object a ref points at. ZeroID means the ref is
// absent or deleted.
type ObjectID string

const ZeroID ObjectID = ""

// IsZero reports whether id is ZeroID or an all-zero hex id.
func (id ObjectID) IsZero() bool {
	return strings.Trim(string(id), "0") == ""
}

// Normalize maps all-zero hex ids onto ZeroID.
func (id ObjectID) Normalize() ObjectID {
	if id.IsZero() {
		return ZeroID
	}
	return id
}

func (id ObjectID) String() string {
	if id == ZeroID {
		return "0"
	}
	return string(id)
}

// Ref is a named pointer to an object. Target is set for symbolic refs and
// names the ref they point at; ID is then the resolved object.
type Ref struct {
	Name   string
	ID     ObjectID
	Target string
}

func (r Ref) Symbolic() bool {
	return r.Target != ""
}

// RefUpdate describes a single ref mutation.
type RefUpdate struct {
	Name  string
	NewID ObjectID
	// ExpectedOld, when non-nil, must equal the current value for the update
	// to apply.
	ExpectedOld *ObjectID
	// Force allows rewinding an existing ref.
	Force bool
}

// Expect returns a pointer to id, for RefUpdate.ExpectedOld.
func Expect(id ObjectID) *ObjectID {
	return &id
}

// Result is the outcome of a single ref mutation.
type Result int

const (
	NotAttempted Result = iota
	New
	Forced
	FastForward
	NoChange
	Renamed
	Rejected
	RejectedOther
	RejectedMissingObject
	RejectedCurrentBranch
	LockFailure
	IOFailure
)

var resultNames = [...]string{
	NotAttempted:          "NOT_ATTEMPTED",
	New:                   "NEW",
	Forced:                "FORCED",
	FastForward:           "FAST_FORWARD",
	NoChange:              "NO_CHANGE",
	Renamed:               "RENAMED",
	Rejected:              "REJECTED",
	RejectedOther:         "REJECTED_OTHER_REASON",
	RejectedMissingObject: "REJECTED_MISSING_OBJECT",
	RejectedCurrentBranch: "REJECTED_CURRENT_BRANCH",
	LockFailure:           "LOCK_FAILURE",
	IOFailure:             "IO_FAILURE",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "UNKNOWN"
}

// Success reports whether the local mutation took effect or was a no-op.
func (r Result) Success() bool {
	switch r {
	case New, Forced, FastForward, NoChange, Renamed:
		return true
	default:
		return false
	}
}

// CommandType classifies a batch command.
type CommandType int

const (
	Create CommandType = iota
	Update
	UpdateNonFastForward
	Delete
	Rename
)

func (t CommandType) String() string {
	switch t {
	case Create:
		return "CREATE"
	case Update:
		return "UPDATE"
	case UpdateNonFastForward:
		return "UPDATE_NONFASTFORWARD"
	case Delete:
		return "DELETE"
	case Rename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// CommandResult is the outcome of one command in a batch.
type CommandResult int

const (
	CmdNotAttempted CommandResult = iota
	CmdOK
	CmdRejectedNonFastForward
	CmdRejectedMissingObject
	CmdRejectedOther
	CmdLockFailure
)

func (r CommandResult) String() string {
	switch r {
	case CmdNotAttempted:
		return "NOT_ATTEMPTED"
	case CmdOK:
		return "OK"
	case CmdRejectedNonFastForward:
		return "REJECTED_NONFASTFORWARD"
	case CmdRejectedMissingObject:
		return "REJECTED_MISSING_OBJECT"
	case CmdRejectedOther:
		return "REJECTED_OTHER_REASON"
	case CmdLockFailure:
		return "LOCK_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Command is one ref mutation inside a batch. Result and Message are filled
// in by whoever executes it.
type Command struct {
	RefName string
	OldID   ObjectID
	NewID   ObjectID
	Type    CommandType
	Result  CommandResult
	Message string
}

// NewCommand infers the command type from which side is zero.
func NewCommand(name string, oldID, newID ObjectID) *Command {
	oldID, newID = oldID.Normalize(), newID.Normalize()
	typ := Update
	switch {
	case oldID == ZeroID:
		typ = Create
	case newID == ZeroID:
		typ = Delete
	}
	return &Command{RefName: name, OldID: oldID, NewID: newID, Type: typ}
}

// SetResult records the outcome of the command.
func (c *Command) SetResult(r CommandResult, msg string) {
	c.Result = r
	c.Message = msg
}

// Inverse returns the command that undoes c.
func (c *Command) Inverse() *Command {
	return NewCommand(c.RefName, c.NewID, c.OldID)
}

func (c *Command) String() string {
	return c.Type.String() + " " + c.RefName + " " + c.OldID.String() + " -> " + c.NewID.String()
}
