package events

import (
	"testing"

	"goalline/internal/domain"
)

func TestTimelineSubscription(t *testing.T) {
	bus := NewBus()
	var got []domain.TimelineEvent
	off := bus.OnTimelineEvent(func(evt domain.TimelineEvent) {
		got = append(got, evt)
	})

	bus.PublishTimeline(domain.TimelineEvent{GoalID: "g1", Type: domain.EventGoalCreated})
	bus.PublishTimeline(domain.TimelineEvent{GoalID: "g1", Type: domain.EventGoalCompleted})
	if len(got) != 2 || got[0].Type != domain.EventGoalCreated || got[1].Type != domain.EventGoalCompleted {
		t.Fatalf("got = %+v", got)
	}

	off()
	bus.PublishTimeline(domain.TimelineEvent{GoalID: "g1", Type: domain.EventError})
	if len(got) != 2 {
		t.Fatalf("received after unsubscribe: %+v", got[2:])
	}
}

func TestDecisionSubscription(t *testing.T) {
	bus := NewBus()
	var goalID string
	var decision domain.UserDecision
	bus.OnUserDecisionCreated(func(gid string, d domain.UserDecision) {
		goalID, decision = gid, d
	})

	bus.PublishDecisionCreated("g1", domain.UserDecision{ID: "d1", Kind: domain.DecisionRoadmapApproval})
	if goalID != "g1" || decision.ID != "d1" {
		t.Fatalf("goalID=%q decision=%+v", goalID, decision)
	}
}

func TestGoalDeletedSubscription(t *testing.T) {
	bus := NewBus()
	var deleted []string
	first := bus.OnGoalDeleted(func(goalID string) { deleted = append(deleted, goalID) })
	bus.OnGoalDeleted(func(goalID string) { deleted = append(deleted, goalID) })

	bus.PublishGoalDeleted("g1")
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want both subscribers notified", deleted)
	}

	first()
	deleted = nil
	bus.PublishGoalDeleted("g2")
	if len(deleted) != 1 || deleted[0] != "g2" {
		t.Fatalf("deleted = %v", deleted)
	}
}
