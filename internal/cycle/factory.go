package cycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

// NewInstance materializes a concrete instance of tpl for the cycle
// containing now. Template fields are copied, subtask completion is
// reset, and the status starts at pending. Returns false when the
// recurrence end date rejects the cycle.
//
// The factory has no side effects; the caller persists the instance
// and updates the template's bookkeeping.
func NewInstance(tpl *model.Template, now time.Time) (*model.Instance, bool) {
	if tpl.Recurrence == nil {
		return nil, false
	}

	due, ok := DueDate(tpl, now)
	if !ok {
		return nil, false
	}

	subtasks := make([]model.Subtask, len(tpl.Subtasks))
	copy(subtasks, tpl.Subtasks)
	for i := range subtasks {
		subtasks[i].Done = false
	}

	assignees := make([]string, len(tpl.AssigneeIDs))
	copy(assignees, tpl.AssigneeIDs)

	return &model.Instance{
		ID:            uuid.NewString(),
		TemplateID:    tpl.ID,
		CycleID:       CurrentCycleID(tpl.Recurrence.Frequency, now),
		Title:         tpl.Title,
		Description:   tpl.Description,
		AssigneeIDs:   assignees,
		Points:        tpl.Points,
		DueDate:       due,
		Subtasks:      subtasks,
		Status:        model.StatusPending,
		RequiresPhoto: tpl.RequiresPhoto,
		CreatedAt:     now,
	}, true
}
