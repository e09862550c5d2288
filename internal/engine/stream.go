package engine

import (
	"iter"

	"github.com/camdoctor/camdoctor/internal/a2a"
)

// Stream is a pull-driven execution. Each Next resumes the engine until it
// emits the following event; between calls no work happens. Once Next
// reports false, Result holds the terminal result.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	next   func() (a2a.Event, bool)
	stop   func()
	result a2a.TaskResult
	done   bool
}

func (s *Stream) start(seq iter.Seq[a2a.Event]) {
	s.next, s.stop = iter.Pull(seq)
}

func (s *Stream) finish(res a2a.TaskResult) {
	s.result = res
	s.done = true
}

func (s *Stream) Next() (a2a.Event, bool) {
	return s.next()
}

// Result returns the terminal result and whether execution reached it. It
// is false while events remain or after an early Close.
func (s *Stream) Result() (a2a.TaskResult, bool) {
	return s.result, s.done
}

// All ranges over the remaining events.
func (s *Stream) All() iter.Seq[a2a.Event] {
	return func(yield func(a2a.Event) bool) {
		for {
			ev, ok := s.next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Close abandons the execution. The engine emits nothing further. Safe to
// call more than once.
func (s *Stream) Close() {
	s.stop()
}
