package engine

import (
	"time"

	"example.com/analysis/internal/domain"
)

// AppActivity is one device-reported usage interval of an application.
type AppActivity struct {
	Application string
	StartTime   time.Time
	EndTime     time.Time
}

// AppActivityBatch carries a batch of app activities together with the
// device's reported clock, used to correct the whole batch for skew.
type AppActivityBatch struct {
	DeviceTime time.Time
	Activities []AppActivity
}

// NetworkActivity is one server-side observation of a network hit.
type NetworkActivity struct {
	URL        string
	Categories []string
	// EventTime is the observation instant; the zero value means "now".
	EventTime time.Time
}

// Rejection reports one event of a batch that failed time validation.
// Rejected events never affect their siblings.
type Rejection struct {
	Application string
	StartTime   time.Time
	EndTime     time.Time
	Reason      *domain.ValidationError
}

// payload is a normalized event flowing through the pipeline, with times
// expressed in the user's timezone.
type payload struct {
	user        *domain.UserAnonymized
	loc         *time.Location
	url         string
	application string
	start       time.Time
	end         time.Time
}

func (p payload) withEnd(end time.Time) payload {
	p.end = end
	return p
}

func (p payload) withStart(start time.Time) payload {
	p.start = start
	return p
}
