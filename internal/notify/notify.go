// Package notify is the side channel for operator-facing messages. The
// scanner depends only on the interface; hosts plug in their own transport.
package notify

import (
	"log"

	"scanstation/internal/submit"
)

// Notifier receives user-visible events from the scan pipeline.
type Notifier interface {
	Success(outcome submit.Outcome)
	Failure(class, message string)
	Notice(message string)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func NewLog() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Success(o submit.Outcome) {
	log.Printf("attendance marked: %s (%s) status=%s", o.Student.Name, o.Student.IndexNumber, o.Status)
}

func (n *LogNotifier) Failure(class, message string) {
	log.Printf("scan failed [%s]: %s", class, message)
}

func (n *LogNotifier) Notice(message string) {
	log.Printf("notice: %s", message)
}
