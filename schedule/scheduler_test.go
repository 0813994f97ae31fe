package schedule

import (
	"testing"

	"github.com/flowplane/flowplane/model"
	"github.com/stretchr/testify/require"
)

func TestReload(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, scheduler *Scheduler,
	){
		"test schedules active workflows":    testSchedulesActive,
		"test removes unscheduled workflows": testRemovesUnscheduled,
		"test replaces changed expression":   testReplacesChanged,
		"test rejects invalid expression":    testRejectsInvalid,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewScheduler(nil))
		})
	}
}

func testSchedulesActive(t *testing.T, scheduler *Scheduler) {
	scheduler.Reload([]model.WorkflowDefinition{
		{Name: "nightly-report", Schedule: "0 2 * * *", Active: true},
		{Name: "no-schedule", Active: true},
		{Name: "inactive", Schedule: "* * * * *", Active: false},
	})

	require.Len(t, scheduler.entries, 1)
	require.Contains(t, scheduler.entries, "nightly-report")
	require.Len(t, scheduler.cron.Entries(), 1)
}

func testRemovesUnscheduled(t *testing.T, scheduler *Scheduler) {
	scheduler.Reload([]model.WorkflowDefinition{
		{Name: "nightly-report", Schedule: "0 2 * * *", Active: true},
	})
	require.Len(t, scheduler.entries, 1)

	// the workflow went away or lost its schedule annotation
	scheduler.Reload(nil)
	require.Empty(t, scheduler.entries)
	require.Empty(t, scheduler.cron.Entries())
}

func testReplacesChanged(t *testing.T, scheduler *Scheduler) {
	scheduler.Reload([]model.WorkflowDefinition{
		{Name: "nightly-report", Schedule: "0 2 * * *", Active: true},
	})
	first := scheduler.entries["nightly-report"]

	scheduler.Reload([]model.WorkflowDefinition{
		{Name: "nightly-report", Schedule: "0 4 * * *", Active: true},
	})
	require.Len(t, scheduler.entries, 1)
	require.NotEqual(t, first, scheduler.entries["nightly-report"])
	require.Len(t, scheduler.cron.Entries(), 1)
}

func testRejectsInvalid(t *testing.T, scheduler *Scheduler) {
	scheduler.Reload([]model.WorkflowDefinition{
		{Name: "good", Schedule: "*/5 * * * *", Active: true},
		{Name: "bad", Schedule: "not a cron expression", Active: true},
	})

	require.Len(t, scheduler.entries, 1)
	require.Contains(t, scheduler.entries, "good")
}
