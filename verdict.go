package refguard

type verdictKind int

const (
	verdictOK verdictKind = iota
	verdictOutOfSync
	verdictSplitBrain
	verdictSystemError
)

func (k verdictKind) String() string {
	switch k {
	case verdictOK:
		return "ok"
	case verdictOutOfSync:
		return "out-of-sync"
	case verdictSplitBrain:
		return "split-brain"
	case verdictSystemError:
		return "system-error"
	default:
		return "unknown"
	}
}

// verdict is the outcome of a reconciliation or propagation step. err is nil
// only for verdictOK.
type verdict struct {
	kind verdictKind
	err  error
}

var okVerdict = verdict{kind: verdictOK}

func (v verdict) ok() bool {
	return v.kind == verdictOK
}
