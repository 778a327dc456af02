package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelsync/fuelsync/jobs"
)

func TestTaskForKnownJobs(t *testing.T) {
	task, err := taskFor(jobs.TaskPriceIntegrityScan)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskPriceIntegrityScan, task.Type())
	var scan jobs.PriceIntegrityScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &scan))
	assert.Equal(t, "manual", scan.Reason)

	task, err = taskFor(jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())
}

func TestTriggerRejectsUnknownAndAuditJobs(t *testing.T) {
	cli := &JobsCLI{}
	_, err := cli.Trigger(context.Background(), "mail:send")
	assert.ErrorContains(t, err, "unsupported job")

	_, err = cli.Trigger(context.Background(), jobs.TaskAuditRecord)
	assert.ErrorContains(t, err, "unsupported job")

	_, err = cli.Trigger(context.Background(), jobs.TaskPriceIntegrityScan)
	assert.ErrorContains(t, err, "client not configured")
}

func TestTriggerable(t *testing.T) {
	assert.Equal(t, []string{jobs.TaskIdempotencyCleanup, jobs.TaskPriceIntegrityScan}, Triggerable())
}

func TestUnconfiguredInspector(t *testing.T) {
	var cli *JobsCLI
	_, err := cli.InspectQueue(context.Background(), "")
	assert.Error(t, err)
	_, err = cli.ListArchivedAudit(context.Background(), 0)
	assert.Error(t, err)
	_, err = cli.ReplayArchivedAudit(context.Background())
	assert.Error(t, err)

	_, err = NewJobsCLI("")
	assert.Error(t, err)
}

func TestRunJobsCommandRejectsBadArguments(t *testing.T) {
	cases := [][]string{
		nil,
		{"explode"},
		{"trigger"},
		{"trigger", "mail:send"},
		{"trigger", "a", "b"},
		{"archived", "ten"},
	}
	for _, args := range cases {
		stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
		code := RunJobsCommand(context.Background(), "127.0.0.1:0", args, stdout, stderr)
		assert.Equal(t, 2, code, "%v", args)
		assert.Empty(t, stdout.String())
		assert.NotEmpty(t, stderr.String())
	}
}

func TestRunJobsCommandNeedsRedisAddress(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := RunJobsCommand(context.Background(), "", []string{"stats"}, new(bytes.Buffer), stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "redis address required")
}
