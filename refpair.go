package refguard

// RefPair is the unit of validation: the local ref as last observed and the
// value it is about to take. A failed pair carries the reason it could not be
// built instead of a put value.
type RefPair struct {
	CompareRef Ref
	PutValue   ObjectID
	Err        error
}

func NewRefPair(compare Ref, put ObjectID) RefPair {
	return RefPair{CompareRef: compare, PutValue: put.Normalize()}
}

func FailedRefPair(compare Ref, err error) RefPair {
	return RefPair{CompareRef: compare, Err: err}
}

func (p RefPair) Name() string {
	return p.CompareRef.Name
}

func (p RefPair) Failed() bool {
	return p.Err != nil
}

// absentRef stands in for a ref the local store does not have.
func absentRef(name string) Ref {
	return Ref{Name: name, ID: ZeroID}
}
