package watcher

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"

	"github.com/arthur-debert/vmbatch/pkg/vmbatch/core"
)

// ProgressSink receives progress records as they change.
type ProgressSink interface {
	Update(rec core.ProgressRecord)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(rec core.ProgressRecord)

func (f ProgressFunc) Update(rec core.ProgressRecord) { f(rec) }

// Sinks are the output channels of a foreground watcher. A nil sink is a
// closed channel: writes to it are dropped.
type Sinks struct {
	Output   func(v any)
	Warning  func(text string)
	Verbose  func(text string)
	Info     func(text string)
	Error    func(rec core.ErrorRecord)
	Progress ProgressSink
}

var verbosePrinter = pterm.PrefixPrinter{
	Prefix: pterm.Prefix{
		Text:  "VERBOSE",
		Style: pterm.NewStyle(pterm.BgGray, pterm.FgLightWhite),
	},
	MessageStyle: pterm.NewStyle(pterm.FgGray),
}

// ConsoleSinks writes objects to out and diagnostics to errOut using pterm
// prefixes. Verbose output is only wired when verbose is set.
func ConsoleSinks(out, errOut io.Writer, verbose bool) Sinks {
	var mu sync.Mutex
	write := func(w io.Writer, s string) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = io.WriteString(w, s)
	}

	sinks := Sinks{
		Output: func(v any) {
			write(out, fmt.Sprintln(v))
		},
		Warning: func(text string) {
			write(errOut, pterm.Warning.Sprintln(text))
		},
		Info: func(text string) {
			write(errOut, pterm.Info.Sprintln(text))
		},
		Error: func(rec core.ErrorRecord) {
			write(errOut, pterm.Error.Sprintln(rec.String()))
		},
		Progress: NewBarProgress(errOut),
	}
	if verbose {
		sinks.Verbose = func(text string) {
			write(errOut, verbosePrinter.Sprintln(text))
		}
	}
	return sinks
}

// BarProgress renders each open progress record as a progress bar.
type BarProgress struct {
	mu   sync.Mutex
	w    io.Writer
	bars map[int]*progressbar.ProgressBar
}

// NewBarProgress renders bars on w.
func NewBarProgress(w io.Writer) *BarProgress {
	return &BarProgress{w: w, bars: make(map[int]*progressbar.ProgressBar)}
}

func (b *BarProgress) Update(rec core.ProgressRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bar, ok := b.bars[rec.ActivityID]
	if !ok {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionSetDescription(rec.Activity),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionFullWidth(),
			progressbar.OptionOnCompletion(func() {
				_, _ = fmt.Fprintln(b.w)
			}),
		)
		b.bars[rec.ActivityID] = bar
	}

	bar.Describe(fmt.Sprintf("%s (%s)", rec.Activity, rec.StatusDescription))
	_ = bar.Set(rec.PercentComplete)

	if rec.IsCompleted() {
		_ = bar.Finish()
		delete(b.bars, rec.ActivityID)
	}
}
