package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scoutsync/internal/api"
	"github.com/joescharf/scoutsync/internal/client"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/state"
)

// relayEnv starts an in-process relay and points sync.* at it.
func relayEnv(t *testing.T) (*client.Client, *bytes.Buffer) {
	t.Helper()
	testEnv(t)

	st, err := state.Open("")
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(st, api.WithToken("secret")).Router())
	t.Cleanup(ts.Close)

	viper.Set("sync.endpoint", ts.URL)
	viper.Set("sync.token", "secret")
	viper.Set("sync.agent_id", "desk-1")

	c, err := client.New(ts.URL, "secret")
	require.NoError(t, err)

	var buf bytes.Buffer
	ui.Out = &buf
	ui.ErrOut = &buf
	return c, &buf
}

func TestTargetAdd_PushesToRelay(t *testing.T) {
	c, buf := relayEnv(t)
	ctx := context.Background()

	require.NoError(t, targetAddRun(ctx, 42, "Alpha"))
	require.NoError(t, targetAddRun(ctx, 0, "Bravo"))
	assert.Contains(t, buf.String(), "Target id:42 added")

	snap, err := c.State(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Targets{
		"id:42":      {DisplayName: "Alpha"},
		"name:Bravo": {DisplayName: "Bravo"},
	}, snap.Targets)

	buf.Reset()
	require.NoError(t, targetListRun(ctx))
	assert.Contains(t, buf.String(), "id:42")
	assert.Contains(t, buf.String(), "Bravo")
}

func TestTargetAdd_RequiresNameOrID(t *testing.T) {
	relayEnv(t)
	err := targetAddRun(context.Background(), 0, "")
	require.Error(t, err)
}

func TestTargetRemove(t *testing.T) {
	c, _ := relayEnv(t)
	ctx := context.Background()

	require.NoError(t, targetAddRun(ctx, 7, ""))
	require.NoError(t, targetRemoveRun(ctx, "id:7"))

	snap, err := c.State(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, snap.Targets)

	err = targetRemoveRun(ctx, "id:7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestTargetAdd_RelayDown(t *testing.T) {
	_, buf := relayEnv(t)
	viper.Set("sync.endpoint", "http://127.0.0.1:1/sync-state")

	require.NoError(t, targetAddRun(context.Background(), 9, "Kilo"))
	assert.Contains(t, buf.String(), "relay unreachable")
}

func TestScanStartAndStop(t *testing.T) {
	c, buf := relayEnv(t)
	ctx := context.Background()

	require.NoError(t, targetAddRun(ctx, 1, "Alpha"))
	require.Error(t, scanStartRun(ctx, false), "no coordinates yet")

	_, err := c.Push(ctx, &models.PutRequest{CoordsBatch: models.SharedCoords{"id:1": {"2:4:6", "1:1:1"}}})
	require.NoError(t, err)

	require.NoError(t, scanStartRun(ctx, true))
	assert.Contains(t, buf.String(), "2 coordinates")

	snap, err := c.State(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, snap.Control)
	assert.Equal(t, models.ControlStart, snap.Control.Action)
	assert.True(t, snap.Control.Continuous)
	assert.Equal(t, []string{"1:1:1", "2:4:6"}, snap.Control.Queue)

	require.NoError(t, scanStopRun(ctx))
	snap, err = c.State(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.ControlStop, snap.Control.Action)
}

func TestLock_AcrossInvocations(t *testing.T) {
	c, _ := relayEnv(t)
	ctx := context.Background()

	err := lockRun(ctx, models.LockHeartbeat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock acquire")

	require.NoError(t, lockRun(ctx, models.LockAcquire))
	snap, err := c.State(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, snap.Lock)
	assert.Equal(t, "desk-1", snap.Lock.OwnerID)

	require.NoError(t, lockRun(ctx, models.LockHeartbeat))
	require.NoError(t, lockRun(ctx, models.LockRelease))

	snap, err = c.State(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, snap.Lock)
}

func TestLock_OccupiedByOtherHost(t *testing.T) {
	c, _ := relayEnv(t)
	ctx := context.Background()

	_, err := c.Push(ctx, &models.PutRequest{LockCommand: &models.LockCommand{
		Action:     models.LockAcquire,
		OwnerID:    "desk-2",
		OwnerLabel: "Second desk",
		Token:      "tok-2",
	}})
	require.NoError(t, err)

	err = lockRun(ctx, models.LockAcquire)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "occupied")
	assert.Contains(t, err.Error(), "Second desk")

	lockForce = true
	t.Cleanup(func() { lockForce = false })
	require.NoError(t, lockRun(ctx, models.LockAcquire))

	snap, err := c.State(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", snap.Lock.OwnerID)
}

func TestStateShow(t *testing.T) {
	c, buf := relayEnv(t)
	ctx := context.Background()

	require.NoError(t, targetAddRun(ctx, 1, "Alpha"))
	_, err := c.Push(ctx, &models.PutRequest{ActivityBatch: []models.Observation{{
		SubjectKey:      "id:1",
		SubjectName:     "Alpha",
		Coordinate:      "1:2:3",
		SeenAt:          1_700_000_000_000,
		BucketTimestamp: 1_700_000_000_000,
		PlanetActivity:  models.ActivityActive,
		MoonActivity:    models.ActivityUnknown,
		DebrisPresent:   models.DebrisNo,
	}}})
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, stateShowRun(ctx, true, false))
	out := buf.String()
	assert.Contains(t, out, "Targets (1")
	assert.Contains(t, out, "Control: none")
	assert.Contains(t, out, "free")
	assert.Contains(t, out, "1 buckets")
	assert.Contains(t, out, "1:2:3")

	buf.Reset()
	require.NoError(t, stateShowRun(ctx, false, true))
	assert.Contains(t, buf.String(), `"activitySummary"`)
	assert.NotContains(t, buf.String(), `"activityLog"`)
}

type fakeSink struct {
	observations []string
	coords       []models.SharedCoords
	flushes      int
}

func (f *fakeSink) RecordObservation(raw []byte) bool {
	if !strings.Contains(string(raw), "subjectKey") {
		return false
	}
	f.observations = append(f.observations, string(raw))
	return true
}

func (f *fakeSink) ShareCoords(_ context.Context, coords models.SharedCoords) error {
	f.coords = append(f.coords, coords)
	return nil
}

func (f *fakeSink) FlushActivity() bool {
	f.flushes++
	return len(f.observations) > 0
}

func TestFeedObservations(t *testing.T) {
	testEnv(t)
	input := strings.Join([]string{
		`{"subjectKey":"id:1","coordinate":"1:2:3","seenAt":1700000000000}`,
		``,
		`{"coordsBatch":{"id:1":["4:5:6"," 1:2:3 ","junk"]}}`,
		`{"coordsBatch":{"id:2":["junk"]}}`,
		`not json`,
	}, "\n")

	sink := &fakeSink{}
	require.NoError(t, feedObservations(context.Background(), sink, strings.NewReader(input)))

	assert.Len(t, sink.observations, 1)
	require.Len(t, sink.coords, 1)
	assert.Equal(t, []string{"1:2:3", "4:5:6"}, sink.coords[0]["id:1"])
	assert.Equal(t, 1, sink.flushes, "queued activity flushed at EOF")
}
