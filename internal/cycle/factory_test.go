package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

func dailyTemplate() *model.Template {
	return &model.Template{
		ID:          "tpl-1",
		Title:       "Feed the cat",
		Description: "Wet food in the morning",
		AssigneeIDs: []string{"kid-1", "kid-2"},
		Points:      5,
		Subtasks: []model.Subtask{
			{ID: "s1", Title: "Rinse bowl", Done: true},
			{ID: "s2", Title: "Fresh water", Done: true},
		},
		RequiresPhoto: true,
		Recurrence:    &model.Recurrence{Frequency: model.FrequencyDaily},
	}
}

func TestNewInstanceCopiesTemplate(t *testing.T) {
	tpl := dailyTemplate()
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	inst, ok := NewInstance(tpl, now)
	require.True(t, ok)

	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "tpl-1", inst.TemplateID)
	assert.Equal(t, "2025-06-01", inst.CycleID)
	assert.Equal(t, "2025-06-01", inst.DueDate.String())
	assert.Equal(t, "Feed the cat", inst.Title)
	assert.Equal(t, []string{"kid-1", "kid-2"}, inst.AssigneeIDs)
	assert.Equal(t, 5, inst.Points)
	assert.Equal(t, model.StatusPending, inst.Status)
	assert.True(t, inst.RequiresPhoto)
	assert.Equal(t, now, inst.CreatedAt)
}

func TestNewInstanceResetsSubtasks(t *testing.T) {
	tpl := dailyTemplate()

	inst, ok := NewInstance(tpl, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)

	for _, st := range inst.Subtasks {
		assert.False(t, st.Done, "subtask %s should reset", st.ID)
	}
	// The template's own subtasks are untouched.
	assert.True(t, tpl.Subtasks[0].Done)
}

func TestNewInstanceRejectedByEndDate(t *testing.T) {
	tpl := dailyTemplate()
	tpl.LastCycleID = "2025-06-01"
	tpl.Recurrence.EndDate = model.MustDate("2025-06-01")

	inst, ok := NewInstance(tpl, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
	assert.Nil(t, inst)
}

func TestNewInstanceRequiresRecurrence(t *testing.T) {
	tpl := dailyTemplate()
	tpl.Recurrence = nil

	_, ok := NewInstance(tpl, time.Now())
	assert.False(t, ok)
}

func TestNewInstanceDistinctIDs(t *testing.T) {
	tpl := dailyTemplate()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a, _ := NewInstance(tpl, now)
	b, _ := NewInstance(tpl, now)
	assert.NotEqual(t, a.ID, b.ID)
}
