package amqp

import (
	"encoding/json"
	"time"

	"hazine/internal/core"
)

// EventType names what happened to an expense. It is also the last segment
// of the routing key.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// ExpenseEvent is published after every successful expense write.
// Expense is omitted for deletions.
type ExpenseEvent struct {
	Type      EventType     `json:"type"`
	ExpenseID int64         `json:"expense_id"`
	Expense   *core.Expense `json:"expense,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewExpenseEvent(typ EventType, id int64, e *core.Expense, at time.Time) ExpenseEvent {
	return ExpenseEvent{
		Type:      typ,
		ExpenseID: id,
		Expense:   e,
		Timestamp: at.UTC(),
	}
}

func (e ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
