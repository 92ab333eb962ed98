package services

import (
	"context"
	"fmt"
	"time"

	"viewing-scheduler-server/models"

	"github.com/kataras/golog"
	"golang.org/x/exp/slices"
)

var meetingTransitions = map[models.MeetingStatus][]models.MeetingStatus{
	models.MeetingPending: {
		models.MeetingConfirmed,
		models.MeetingCancelledByBuyer,
		models.MeetingCancelledBySeller,
		models.MeetingCancelledByUser,
		models.MeetingTentative,
		models.MeetingExpired,
	},
	models.MeetingConfirmed: {
		models.MeetingCompleted,
		models.MeetingCancelledByBuyer,
		models.MeetingCancelledBySeller,
		models.MeetingCancelledByUser,
		models.MeetingNoShow,
		models.MeetingRescheduled,
		models.MeetingTentative,
	},
	models.MeetingRescheduled: {
		models.MeetingConfirmed,
		models.MeetingCancelledByBuyer,
		models.MeetingCancelledBySeller,
		models.MeetingCancelledByUser,
		models.MeetingTentative,
	},
	models.MeetingTentative: {
		models.MeetingConfirmed,
		models.MeetingCancelledByBuyer,
		models.MeetingCancelledBySeller,
		models.MeetingCancelledByUser,
		models.MeetingExpired,
	},
}

// AllowedTransitions lists the statuses reachable from from. Terminal statuses return an empty list.
func AllowedTransitions(from models.MeetingStatus) []models.MeetingStatus {
	return slices.Clone(meetingTransitions[from])
}

func IsTerminal(status models.MeetingStatus) bool {
	return len(meetingTransitions[status]) == 0
}

func CanTransition(from, to models.MeetingStatus) bool {
	return slices.Contains(meetingTransitions[from], to)
}

func ValidateTransition(from, to models.MeetingStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &IllegalTransitionError{From: from, To: to, Allowed: AllowedTransitions(from)}
}

type TransitionSource string

const (
	SourceUser    TransitionSource = "user"
	SourceSync    TransitionSource = "sync"
	SourceWebhook TransitionSource = "webhook"
	SourceExpiry  TransitionSource = "expiry"
)

// Transition is a requested status change together with its audit data.
type Transition struct {
	To      models.MeetingStatus
	Reason  string
	Source  TransitionSource
	ActorID *uint
}

// StateMachine validates and applies meeting status transitions with a compare-and-swap on the stored status.
type StateMachine struct {
	store MeetingStore
	now   func() time.Time
}

func NewStateMachine(store MeetingStore) *StateMachine {
	return &StateMachine{store: store, now: time.Now}
}

// Apply moves m to t.To. On success m reflects the stored row.
func (sm *StateMachine) Apply(ctx context.Context, m *models.Meeting, t Transition) error {
	if err := ValidateTransition(m.Status, t.To); err != nil {
		return err
	}

	entry := models.MeetingStatusLog{
		MeetingID:  m.ID,
		FromStatus: m.Status,
		ToStatus:   t.To,
		Source:     string(t.Source),
		ActorID:    t.ActorID,
		Reason:     t.Reason,
	}
	swapped, err := sm.store.SwapStatus(ctx, m.ID, m.Status, t.To, entry)
	if err != nil {
		return fmt.Errorf("update meeting %s status: %w", m.ID, err)
	}

	if !swapped {
		current, err := sm.store.Get(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("reload meeting %s: %w", m.ID, err)
		}
		if current != nil && current.Status == t.To {
			// a concurrent writer already applied the same change
			*m = *current
			return nil
		}
		actual := models.MeetingStatus("missing")
		if current != nil {
			actual = current.Status
		}
		return &ConflictError{
			Message: fmt.Sprintf("meeting status changed concurrently from %s to %s", m.Status, actual),
		}
	}

	golog.Infof("📅 meeting %s: %s -> %s (%s: %s)", m.ID, m.Status, t.To, t.Source, t.Reason)
	m.Status = t.To
	m.UpdatedAt = sm.now()
	return nil
}
