package goal

import (
	"github.com/perfdesk/eventcore/internal/command"
	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/saga"
)

// CompletionReviewSagaName is the registered name of the completion review
// process.
const CompletionReviewSagaName = "goal-completion-review"

type completionReviewState struct {
	GoalID  string
	OwnerID string
	Title   string
}

// CompletionReviewSaga tracks a goal from creation and, when it completes,
// requests a review of the outcome. A cancelled goal ends the process with
// no review.
type CompletionReviewSaga struct{}

// Name implements saga.Definition.
func (CompletionReviewSaga) Name() string { return CompletionReviewSagaName }

// InitialState implements saga.Definition.
func (CompletionReviewSaga) InitialState() any { return completionReviewState{} }

// Handle implements saga.Definition.
func (CompletionReviewSaga) Handle(state any, ev domain.Event) saga.Step {
	st := state.(completionReviewState)

	switch ev.Type {
	case EventCreated:
		st.GoalID = ev.AggregateID
		st.OwnerID, _ = ev.Payload["owner_id"].(string)
		st.Title, _ = ev.Payload["title"].(string)
		return saga.Step{State: st}

	case EventCompleted:
		if ev.AggregateID != st.GoalID {
			return saga.Step{State: st}
		}
		review := command.New(CmdRequestReview, map[string]any{
			"goal_id":  st.GoalID,
			"owner_id": st.OwnerID,
			"title":    st.Title,
		}, command.Meta{
			TenantID:       ev.Metadata.TenantID,
			UserID:         "system",
			CorrelationID:  ev.Metadata.CorrelationID,
			IdempotencyKey: "review-" + st.GoalID,
		})
		return saga.Step{Complete: true, Commands: []command.Command{review}}

	case EventCancelled:
		if ev.AggregateID != st.GoalID {
			return saga.Step{State: st}
		}
		return saga.Step{Complete: true}
	}
	return saga.Step{State: st}
}
