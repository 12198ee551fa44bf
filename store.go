package refguard

import (
	"fmt"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/aweris/refguard/internal/shareddb"
	"github.com/aweris/refguard/internal/store"
)

// LocalStore is the node-local ref store.
// Re-exported from internal/store for convenience.
type LocalStore = store.Store

// SharedStore is the cluster-wide ref store.
// Re-exported from internal/shareddb for convenience.
type SharedStore = shareddb.Store

// Lock is a held shared-store lock.
type Lock = shareddb.Lock

type (
	ObjectID      = store.ObjectID
	Ref           = store.Ref
	RefUpdate     = store.RefUpdate
	Result        = store.Result
	Command       = store.Command
	CommandType   = store.CommandType
	CommandResult = store.CommandResult
)

const ZeroID = store.ZeroID

// Single ref results.
const (
	NotAttempted          = store.NotAttempted
	New                   = store.New
	Forced                = store.Forced
	FastForward           = store.FastForward
	NoChange              = store.NoChange
	Renamed               = store.Renamed
	Rejected              = store.Rejected
	RejectedOther         = store.RejectedOther
	RejectedMissingObject = store.RejectedMissingObject
	RejectedCurrentBranch = store.RejectedCurrentBranch
	LockFailure           = store.LockFailure
	IOFailure             = store.IOFailure
)

// Batch command types and results.
const (
	Create               = store.Create
	Update               = store.Update
	UpdateNonFastForward = store.UpdateNonFastForward
	Delete               = store.Delete
	Rename               = store.Rename

	CmdNotAttempted           = store.CmdNotAttempted
	CmdOK                     = store.CmdOK
	CmdRejectedNonFastForward = store.CmdRejectedNonFastForward
	CmdRejectedMissingObject  = store.CmdRejectedMissingObject
	CmdRejectedOther          = store.CmdRejectedOther
	CmdLockFailure            = store.CmdLockFailure
)

// NewCommand builds a batch command, inferring its type from the zero ids.
func NewCommand(name string, oldID, newID ObjectID) *Command {
	return store.NewCommand(name, oldID, newID)
}

// Expect returns id as the expected old value of an update or delete.
func Expect(id ObjectID) *ObjectID {
	return store.Expect(id)
}

// ParseObjectID parses an object id given either as a digest
// ("sha256:<hex>") or as a bare 40 or 64 character hex string. All-zero ids
// parse to ZeroID.
func ParseObjectID(s string) (ObjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return ZeroID, nil
	}
	if strings.Contains(s, ":") {
		h, err := v1.NewHash(strings.ToLower(s))
		if err != nil {
			return ZeroID, fmt.Errorf("invalid object id %q: %w", s, err)
		}
		if strings.Trim(h.Hex, "0") == "" {
			return ZeroID, nil
		}
		return ObjectID(h.String()), nil
	}

	s = strings.ToLower(s)
	if len(s) != 40 && len(s) != 64 {
		return ZeroID, fmt.Errorf("invalid object id %q: want 40 or 64 hex digits", s)
	}
	if rest := strings.TrimLeft(s, "0123456789abcdef"); rest != "" {
		return ZeroID, fmt.Errorf("invalid object id %q: non-hex character %q", s, rest[0])
	}
	return ObjectID(s).Normalize(), nil
}
