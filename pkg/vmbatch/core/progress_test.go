package core

import "testing"

func TestProgressRecordApply(t *testing.T) {
	t.Run("Updates percent and status", func(t *testing.T) {
		rec := ProgressRecord{ActivityID: 1, Activity: "job"}
		rec.Apply(TaskSnapshot{Caption: "Starting web", PercentComplete: 40})

		if rec.Activity != "Starting web" {
			t.Errorf("Expected activity from caption, got %q", rec.Activity)
		}
		if rec.PercentComplete != 40 || rec.StatusDescription != "40% complete" {
			t.Errorf("Unexpected record %+v", rec)
		}
		if rec.IsCompleted() {
			t.Error("Record should still be open")
		}
	})

	t.Run("Completion closes at 100", func(t *testing.T) {
		rec := ProgressRecord{}
		rec.Apply(TaskSnapshot{PercentComplete: 70, Completed: true})
		if !rec.IsCompleted() || rec.PercentComplete != 100 {
			t.Errorf("Expected terminal record at 100%%, got %+v", rec)
		}
	})

	t.Run("Percent is clamped", func(t *testing.T) {
		rec := ProgressRecord{}
		rec.Apply(TaskSnapshot{PercentComplete: 140})
		if rec.PercentComplete != 100 {
			t.Errorf("Expected 100, got %d", rec.PercentComplete)
		}
		rec.Apply(TaskSnapshot{PercentComplete: -3})
		if rec.PercentComplete != 0 {
			t.Errorf("Expected 0, got %d", rec.PercentComplete)
		}
	})

	t.Run("Fail marks exception", func(t *testing.T) {
		rec := ProgressRecord{}
		rec.Fail()
		if rec.StatusDescription != StatusException || !rec.IsCompleted() || rec.PercentComplete != 100 {
			t.Errorf("Unexpected record %+v", rec)
		}
	})
}
