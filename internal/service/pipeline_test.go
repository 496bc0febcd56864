package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/septivank/water-meter-relay/internal/hub"
)

type pipelineFixture struct {
	store    *fakeStore
	registry *hub.Registry
	pipeline *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	logger := zap.NewNop()
	store := newFakeStore()
	registry := hub.NewRegistry(logger)
	ingestor := newTestIngestor(store, nil)
	return &pipelineFixture{
		store:    store,
		registry: registry,
		pipeline: NewPipeline(ingestor, NewBroadcaster(registry, logger), logger),
	}
}

func TestHandleMessage_RepliesAndNotifiesOwners(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")

	alice := &fakeConn{id: "alice-1"}
	mallory := &fakeConn{id: "mallory-1"}
	device := &fakeConn{id: "device-1"}
	f.registry.Register("alice", alice)
	f.registry.Register("mallory", mallory)

	err := f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id": "A1", "count": 650}`), device)
	require.NoError(t, err)

	replies := device.received()
	require.Len(t, replies, 1)
	assert.Equal(t, "ok", replies[0]["status"])
	assert.Equal(t, "A1", replies[0]["device_id"])
	assert.Equal(t, float64(650), replies[0]["count"])
	assert.Equal(t, 1.0, replies[0]["liters"])
	assert.Equal(t, "2025-03-01T10:15:30.123456+00:00", replies[0]["timestamp"])

	notes := alice.received()
	require.Len(t, notes, 1)
	assert.Equal(t, "telemetry", notes[0]["type"])
	assert.Equal(t, replies[0], notes[0]["data"])

	assert.Empty(t, mallory.received(), "non-owners are never notified")
}

func TestHandleMessage_ReporterOwningDeviceGetsBothFrames(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")

	alice := &fakeConn{id: "alice-1"}
	f.registry.Register("alice", alice)

	require.NoError(t, f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id":"A1","count":1300}`), alice))

	frames := alice.received()
	require.Len(t, frames, 2)
	assert.Equal(t, "ok", frames[0]["status"], "the reply precedes the notification")
	assert.Equal(t, "telemetry", frames[1]["type"])
}

func TestHandleMessage_UnknownDevice(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")

	alice := &fakeConn{id: "alice-1"}
	device := &fakeConn{id: "device-1"}
	f.registry.Register("alice", alice)

	err := f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id": "ZZZ", "count": 5}`), device)

	var unknown *UnknownDeviceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []map[string]any{{"status": "error", "message": "Unknown device_id ZZZ"}}, device.received())
	assert.Empty(t, alice.received())
	assert.Empty(t, f.store.allLogs())
}

func TestHandleMessage_MalformedFramesAreDroppedSilently(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0)
	device := &fakeConn{id: "device-1"}

	for _, raw := range []string{
		`not json`,
		`{"count": 3}`,
		`{"device_id": "A1"}`,
		`{"device_id": "A1", "count": "many"}`,
		`{"device_id": "A1", "count": -1}`,
	} {
		err := f.pipeline.HandleMessage(context.Background(), []byte(raw), device)
		assert.ErrorIs(t, err, ErrMalformedMessage, raw)
	}
	assert.Empty(t, device.received())
	assert.Empty(t, f.store.allLogs())

	require.NoError(t, f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id":"A1","count":65}`), device))
	replies := device.received()
	require.Len(t, replies, 1)
	assert.Equal(t, "ok", replies[0]["status"])
	assert.InDelta(t, 0.1, replies[0]["liters"], 1e-9)
}

func TestHandleMessage_PersistenceFailure(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")
	f.store.fail("create", errors.New("connection reset"))

	alice := &fakeConn{id: "alice-1"}
	device := &fakeConn{id: "device-1"}
	f.registry.Register("alice", alice)

	err := f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id":"A1","count":10}`), device)

	var persistence *PersistenceError
	require.ErrorAs(t, err, &persistence)
	assert.Equal(t, []map[string]any{{"status": "error", "message": "Failed to store telemetry for device_id A1"}}, device.received())
	assert.Empty(t, alice.received())
}

func TestHandleMessage_WithoutOrigin(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")
	alice := &fakeConn{id: "alice-1"}
	f.registry.Register("alice", alice)

	require.NoError(t, f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id":"A1","count":650}`), nil))
	assert.Len(t, alice.received(), 1)
	assert.Len(t, f.store.allLogs(), 1)
}

func TestHandleMessage_OwnerOffline(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")
	device := &fakeConn{id: "device-1"}

	require.NoError(t, f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id":"A1","count":650}`), device))
	assert.Len(t, device.received(), 1)
	assert.Len(t, f.store.allLogs(), 1)
}

func TestHandleMessage_DeadReporterStillPersistsAndBroadcasts(t *testing.T) {
	f := newPipelineFixture()
	f.store.addDevice("A1", 650.0, "alice")
	alice := &fakeConn{id: "alice-1"}
	f.registry.Register("alice", alice)
	device := &fakeConn{id: "device-1", err: hub.ErrConnectionClosed}

	require.NoError(t, f.pipeline.HandleMessage(context.Background(), []byte(`{"device_id":"A1","count":650}`), device))
	assert.Len(t, alice.received(), 1)
	assert.Len(t, f.store.allLogs(), 1)
}
