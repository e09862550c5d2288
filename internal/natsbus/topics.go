package natsbus

import "strings"

// Subjects for execution events. Engine events of a whole chain, children
// included, go to the root task's subject.

const (
	TopicEventsAll     = "events.>"
	TopicEventsTasks   = "events.task.*"
	TopicEventsWatches = "events.watch.*"
)

func TopicEventsTask(taskID string) string {
	return "events.task." + subjectToken(taskID)
}

func TopicEventsWatch(name string) string {
	return "events.watch." + subjectToken(name)
}

// subjectToken turns an arbitrary id into a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
