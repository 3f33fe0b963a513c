package execution

import "time"

// OperandStatus is the outcome of one operand.
type OperandStatus string

const (
	StatusSuccess OperandStatus = "SUCCESS"
	StatusFailure OperandStatus = "FAILURE"
	// StatusSkipped marks operands never reached because the run was stopped.
	StatusSkipped OperandStatus = "SKIPPED"
)

// OperandResult records what happened to one operand.
type OperandResult struct {
	Index    int
	Operand  string
	Status   OperandStatus
	Error    error
	Duration time.Duration
}

// Result is the per-operand report of a batch run. A batch does not succeed
// or fail as a whole; callers inspect the operands.
type Result struct {
	Batch    string
	Operands []OperandResult
	Errors   []error
	Duration time.Duration
	// Stopped is set when the run ended early because its context was done.
	Stopped bool
}

func (r *Result) count(status OperandStatus) int {
	n := 0
	for _, o := range r.Operands {
		if o.Status == status {
			n++
		}
	}
	return n
}

func (r *Result) Succeeded() int { return r.count(StatusSuccess) }
func (r *Result) Failed() int    { return r.count(StatusFailure) }
func (r *Result) Skipped() int   { return r.count(StatusSkipped) }

// Success reports whether every operand succeeded.
func (r *Result) Success() bool {
	return !r.Stopped && r.Failed() == 0 && r.Skipped() == 0
}
