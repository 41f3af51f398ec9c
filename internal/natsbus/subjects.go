package natsbus

// Subjects and headers for robot/monitor communication.

const (
	// SubjectReport is the request subject robots publish their state on.
	// Replies go to the per-request inbox carried by the message.
	SubjectReport = "fleet.report"

	// SubjectCycleEvents carries one event per completed resolution cycle.
	SubjectCycleEvents = "fleet.events.cycle"

	// SubjectDeadlockEvents carries one event per deadlocked cycle.
	SubjectDeadlockEvents = "fleet.events.deadlock"

	// SubjectEventsAll matches every fleet event.
	SubjectEventsAll = "fleet.events.>"

	// HeaderCorrelationID tags a report and is echoed on its reply so the
	// robot can match the answer to its request.
	HeaderCorrelationID = "Fleet-Correlation-Id"
)
