package core

import "fmt"

// RecordType tells whether a progress record is still open.
type RecordType int

const (
	RecordProcessing RecordType = iota
	RecordCompleted
)

func (t RecordType) String() string {
	if t == RecordCompleted {
		return "Completed"
	}
	return "Processing"
}

// StatusException is the status of a progress record closed by an error.
const StatusException = "Exception"

// ProgressRecord is one activity's progress as seen by a consumer.
type ProgressRecord struct {
	ActivityID        int
	Activity          string
	StatusDescription string
	PercentComplete   int
	RecordType        RecordType
}

// IsCompleted reports whether the record is terminal.
func (r ProgressRecord) IsCompleted() bool {
	return r.RecordType == RecordCompleted
}

// Apply folds a task snapshot into the record. A completed snapshot closes it
// at 100%.
func (r *ProgressRecord) Apply(s TaskSnapshot) {
	if s.Caption != "" {
		r.Activity = s.Caption
	}
	r.PercentComplete = clampPercent(s.PercentComplete)
	r.StatusDescription = PercentText(r.PercentComplete)
	if s.Completed {
		r.PercentComplete = 100
		r.StatusDescription = PercentText(100)
		r.RecordType = RecordCompleted
	}
}

// Fail closes the record as an exceptional end state.
func (r *ProgressRecord) Fail() {
	r.PercentComplete = 100
	r.StatusDescription = StatusException
	r.RecordType = RecordCompleted
}

// PercentText renders the status line of a progress record.
func PercentText(percent int) string {
	return fmt.Sprintf("%d%% complete", percent)
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
