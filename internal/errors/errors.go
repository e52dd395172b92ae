package errors

// InferenceError cause tags.
const (
	CauseOOM            = "out-of-memory"
	CauseMalformedInput = "malformed-input"
	CauseModelFailure   = "model-failure"
	CauseNumericDiverge = "numeric-divergence"
)

type InitError struct {
	ErrorMsg string
}

func (m *InitError) Error() string {
	return m.ErrorMsg
}

type LoadError struct {
	ErrorMsg string
}

func (m *LoadError) Error() string {
	return m.ErrorMsg
}

type InferenceError struct {
	ErrorMsg string
	Cause    string
}

func (m *InferenceError) Error() string {
	return m.ErrorMsg
}

type SessionStateError struct {
	ErrorMsg string
}

func (m *SessionStateError) Error() string {
	return m.ErrorMsg
}

type RequestError struct {
	ErrorMsg string
}

func (m *RequestError) Error() string {
	return m.ErrorMsg
}
