package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Progress shows a spinner while a long operation, such as waiting for
// the browser, runs. A quiet Progress prints nothing.
type Progress struct {
	w io.Writer
	s *spinner.Spinner
}

// StartProgress starts a spinner with message on w unless quiet is set.
func StartProgress(w io.Writer, quiet bool, message string) *Progress {
	if quiet {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	s.Start()
	return &Progress{w: w, s: s}
}

// Update replaces the spinner message.
func (p *Progress) Update(message string) {
	if p.s == nil {
		return
	}
	p.s.Lock()
	p.s.Suffix = " " + message
	p.s.Unlock()
}

// Success stops the spinner and leaves a green check with message.
func (p *Progress) Success(message string) {
	p.stop(text.FgGreen.Sprint("✓") + " " + message + "\n")
}

// Fail stops the spinner and leaves message in red.
func (p *Progress) Fail(message string) {
	p.stop(text.FgRed.Sprint(message) + "\n")
}

// Stop stops the spinner without a final message.
func (p *Progress) Stop() {
	p.stop("")
}

func (p *Progress) stop(final string) {
	if p.s == nil {
		return
	}
	// The spinner drops FinalMSG when the writer is not a terminal.
	p.s.Stop()
	p.s = nil
	if final != "" {
		fmt.Fprint(p.w, final)
	}
}
