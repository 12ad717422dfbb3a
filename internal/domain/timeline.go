package domain

import (
	"fmt"
	"time"
)

const (
	TimelineOrderPlaced        = "OrderPlaced"
	TimelineOrderCompleted     = "OrderCompleted"
	TimelineOrderPersistFailed = "OrderPersistFailed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Prepare проверяет событие перед записью и проставляет время, если оно не задано.
func (e TimelineEvent) Prepare(now time.Time) (TimelineEvent, error) {
	if e.OrderID == "" {
		return TimelineEvent{}, ErrOrderNotFound
	}
	switch e.Type {
	case TimelineOrderPlaced, TimelineOrderCompleted, TimelineOrderPersistFailed:
	default:
		return TimelineEvent{}, fmt.Errorf("unknown timeline event type %q", e.Type)
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
