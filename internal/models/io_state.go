package models

// IOState is the process-wide batch I/O state
type IOState string

const (
	IOStateIdle       IOState = "idle"
	IOStateLoading    IOState = "loading"
	IOStateSaving     IOState = "saving"
	IOStateCompleting IOState = "completing"
)

// BatchKind identifies which batch operation is running
type BatchKind string

const (
	BatchKindNone BatchKind = ""
	BatchKindLoad BatchKind = "load"
	BatchKindSave BatchKind = "save"
)

// RunningState returns the IOState a batch of this kind runs in.
func (k BatchKind) RunningState() IOState {
	switch k {
	case BatchKindLoad:
		return IOStateLoading
	case BatchKindSave:
		return IOStateSaving
	default:
		return IOStateIdle
	}
}

// Progress counts units of the current (or last) batch run.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Failed    int `json:"failed"`
}

// Resolved is the number of units that finished either way.
func (p Progress) Resolved() int {
	return p.Completed + p.Failed
}

// Done reports whether every unit has resolved.
func (p Progress) Done() bool {
	return p.Resolved() >= p.Total
}
