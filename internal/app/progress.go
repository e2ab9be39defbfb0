package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// batchProgress shows "label batch n/total" on stderr while a job runs.
type batchProgress struct {
	s     *spinner.Spinner
	label string
}

func newBatchProgress(label string, quiet bool) *batchProgress {
	var w io.Writer = os.Stderr
	if quiet {
		w = io.Discard
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = fmt.Sprintf(" %s starting", label)
	s.Start()
	return &batchProgress{s: s, label: label}
}

func (p *batchProgress) Update(done, total int) {
	p.s.Lock()
	p.s.Suffix = fmt.Sprintf(" %s batch %d/%d", p.label, done, total)
	p.s.Unlock()
}

func (p *batchProgress) Stop() {
	p.s.Stop()
}
