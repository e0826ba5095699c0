package collector

import (
	"fmt"

	"github.com/injoyai/bar"
)

// Progress reports per-symbol progress of a fetch phase.
type Progress interface {
	// Start is called before the i-th (1-based) of n symbols is processed.
	Start(i, n int, symbol string)
	// Done is called after a symbol is finished.
	Done()
	// Logf prints a line without breaking the progress display.
	Logf(format string, args ...any)
	Close()
}

// ProgressFactory opens a Progress for a phase over total symbols.
type ProgressFactory func(phase string, total int) Progress

// BarProgress renders a console progress bar.
func BarProgress(phase string, total int) Progress {
	b := bar.New(
		bar.WithTotal(int64(total)),
		bar.WithPrefix("["+phase+"]"),
		bar.WithFlush(),
	)
	return &barProgress{
		phase:     phase,
		setPrefix: func(s string) { b.SetPrefix(s) },
		add:       func() { b.Add(1) },
		logf:      func(format string, args ...any) { b.Logf(format, args...) },
		flush:     func() { b.Flush() },
		close:     func() { b.Close() },
	}
}

type barProgress struct {
	phase     string
	setPrefix func(string)
	add       func()
	logf      func(string, ...any)
	flush     func()
	close     func()
}

func (p *barProgress) Start(i, n int, symbol string) {
	p.setPrefix(fmt.Sprintf("[%d/%d][%s %s]", i, n, p.phase, symbol))
	p.logf("[%d/%d] - start download %s %s klines", i, n, p.phase, symbol)
	p.flush()
}

func (p *barProgress) Done() {
	p.add()
	p.flush()
}

func (p *barProgress) Logf(format string, args ...any) {
	p.logf(format, args...)
	p.flush()
}

func (p *barProgress) Close() {
	p.close()
}

// NopProgress discards progress updates.
func NopProgress(string, int) Progress { return nopProgress{} }

type nopProgress struct{}

func (nopProgress) Start(int, int, string) {}
func (nopProgress) Done()                  {}
func (nopProgress) Logf(string, ...any)    {}
func (nopProgress) Close()                 {}
