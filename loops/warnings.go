package loops

import (
	"fmt"
	"runtime"
	"sync"
)

// Category classifies a Warning.
type Category string

const (
	// RuntimeWarning reports an async object that was created but never completed, such as a
	// Future that nobody awaited. The loop harness treats these as test failures.
	RuntimeWarning Category = "RuntimeWarning"
	// ResourceWarning reports work that had to be cancelled when a loop was released.
	ResourceWarning Category = "ResourceWarning"
	// DebugWarning reports slow work items when debug mode is enabled.
	DebugWarning Category = "DebugWarning"
)

// Warning is a single diagnostic emitted by a loop.
type Warning struct {
	Category Category
	File     string
	Line     int
	Message  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d:%s", w.File, w.Line, w.Message)
}

// WarningCapture records the warnings emitted by the loops it is attached to, from the time it
// is attached until Stop is called. Warnings emitted while no capture is attached are only logged.
type WarningCapture struct {
	lock    sync.Mutex
	loops   []*Loop
	records []Warning
	stopped bool
}

// NewWarningCapture creates a capture that is not attached to any loop yet.
func NewWarningCapture() *WarningCapture {
	return &WarningCapture{}
}

// CaptureWarnings creates a capture and attaches it to this loop.
func (l *Loop) CaptureWarnings() *WarningCapture {
	c := NewWarningCapture()
	l.AttachCapture(c)
	return c
}

// AttachCapture starts delivering this loop's warnings to c. A capture stays attached even
// after the loop is released, so warnings emitted during release are still recorded.
func (l *Loop) AttachCapture(c *WarningCapture) {
	c.lock.Lock()
	if c.stopped {
		c.lock.Unlock()
		return
	}
	c.loops = append(c.loops, l)
	c.lock.Unlock()

	l.lock.Lock()
	l.captures = append(l.captures, c)
	l.lock.Unlock()
}

func (l *Loop) detachCapture(c *WarningCapture) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, x := range l.captures {
		if x == c {
			l.captures = append(l.captures[:i], l.captures[i+1:]...)
			return
		}
	}
}

// Stop detaches the capture from every loop and returns what it recorded.
func (c *WarningCapture) Stop() []Warning {
	c.lock.Lock()
	c.stopped = true
	loops := c.loops
	c.loops = nil
	records := append([]Warning(nil), c.records...)
	c.lock.Unlock()

	for _, l := range loops {
		l.detachCapture(c)
	}
	return records
}

func (c *WarningCapture) add(w Warning) {
	c.lock.Lock()
	if !c.stopped {
		c.records = append(c.records, w)
	}
	c.lock.Unlock()
}

// Warn emits a warning attributed to the caller's source location.
func (l *Loop) Warn(category Category, message string) {
	_, file, line, _ := runtime.Caller(1)
	l.warn(category, file, line, message)
}

func (l *Loop) warn(category Category, file string, line int, message string) {
	if file == "" {
		file = "<loop " + l.id.String() + ">"
	}
	w := Warning{Category: category, File: file, Line: line, Message: message}

	l.lock.Lock()
	captures := append([]*WarningCapture(nil), l.captures...)
	logger := l.logger
	l.lock.Unlock()

	if len(captures) == 0 {
		logger.Printf("%s: %s", category, w)
		return
	}
	for _, c := range captures {
		c.add(w)
	}
}

// Filter returns the warnings of one category.
func Filter(warnings []Warning, category Category) []Warning {
	var ret []Warning
	for _, w := range warnings {
		if w.Category == category {
			ret = append(ret, w)
		}
	}
	return ret
}
