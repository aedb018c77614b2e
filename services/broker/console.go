package brokersvc

import (
	"context"
	"sync"

	"github.com/icue/varsity/core"
	"github.com/icue/varsity/core/checkin"
)

var (
	// PublishedEvents collects everything "published" in DEV/TEST mode.
	PublishedEvents = make([]checkin.Event, 0)
	mu              sync.Mutex
)

// ConsolePublisher logs events instead of publishing them.
type ConsolePublisher struct {
	logger core.Logger
}

var _ checkin.Publisher = (*ConsolePublisher)(nil)

func NewConsolePublisher(logger core.Logger) *ConsolePublisher {
	return &ConsolePublisher{logger: logger}
}

func (p *ConsolePublisher) PublishCheckIn(_ context.Context, ev checkin.Event) error {
	mu.Lock()
	PublishedEvents = append(PublishedEvents, ev)
	mu.Unlock()

	if p.logger != nil {
		p.logger.Info("check-in event", map[string]interface{}{
			"ticket_id":  ev.TicketID,
			"exam_id":    ev.ExamID,
			"venue_id":   ev.VenueID,
			"proctor_id": ev.ProctorID,
			"method":     ev.Method,
		})
	}
	return nil
}
