package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2025, 3, 1, 10, 15, 30, 123456789, time.UTC)

func newTestIngestor(store *fakeStore, publisher EventPublisher) *Ingestor {
	ingestor := NewIngestor(store, publisher, zap.NewNop())
	ingestor.now = func() time.Time { return fixedNow }
	return ingestor
}

func TestIngest_ComputesVolumeAndMarksDeviceSeen(t *testing.T) {
	store := newFakeStore()
	device := store.addDevice("A1", 650.0, "alice", "bob")
	ingestor := newTestIngestor(store, nil)

	outcome, err := ingestor.Ingest(context.Background(), "A1", 650)
	require.NoError(t, err)

	assert.Equal(t, Reading{
		Status:    "ok",
		DeviceID:  "A1",
		Count:     650,
		Liters:    1.0,
		Timestamp: "2025-03-01T10:15:30.123456+00:00",
	}, outcome.Reading)
	assert.Equal(t, []string{"alice", "bob"}, outcome.Owners)

	logs := store.allLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, device.ID, logs[0].DevicePK)
	assert.Equal(t, int64(650), logs[0].Count)
	assert.InDelta(t, 1.0, logs[0].Liters, 1e-9)

	seen := store.device("A1").LastSeen
	require.NotNil(t, seen)
	assert.True(t, seen.Equal(fixedNow.Truncate(time.Microsecond)))
}

func TestIngest_VolumeUsesFactorAtCreation(t *testing.T) {
	cases := []struct {
		count  int64
		factor float64
	}{
		{0, 650},
		{1, 650},
		{1300, 650},
		{977, 450.5},
		{123456789, 7.25},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%v", tc.count, tc.factor), func(t *testing.T) {
			store := newFakeStore()
			store.addDevice("D", tc.factor)

			outcome, err := newTestIngestor(store, nil).Ingest(context.Background(), "D", tc.count)
			require.NoError(t, err)
			assert.InDelta(t, float64(tc.count)/tc.factor, outcome.Reading.Liters, 1e-9)
			assert.InDelta(t, float64(tc.count)/tc.factor, store.allLogs()[0].Liters, 1e-9)
		})
	}
}

func TestIngest_UnknownDevice(t *testing.T) {
	store := newFakeStore()
	store.addDevice("A1", 650)
	publisher := &recordingPublisher{}

	outcome, err := newTestIngestor(store, publisher).Ingest(context.Background(), "ZZZ", 10)

	assert.Nil(t, outcome)
	var unknown *UnknownDeviceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ZZZ", unknown.DeviceID)
	assert.Equal(t, "Unknown device_id ZZZ", err.Error())
	assert.Empty(t, store.allLogs())
	assert.Empty(t, publisher.events)
}

func TestIngest_PersistenceFailureRollsBack(t *testing.T) {
	boom := errors.New("disk full")

	for _, op := range []string{"find", "update", "create", "owners", "commit"} {
		t.Run(op, func(t *testing.T) {
			store := newFakeStore()
			store.addDevice("A1", 650, "alice")
			store.fail(op, boom)

			outcome, err := newTestIngestor(store, nil).Ingest(context.Background(), "A1", 5)

			assert.Nil(t, outcome)
			var persistence *PersistenceError
			require.ErrorAs(t, err, &persistence)
			assert.ErrorIs(t, err, boom)
			assert.Empty(t, store.allLogs())
			assert.Nil(t, store.device("A1").LastSeen)
		})
	}
}

func TestIngest_PublishesEventAndIgnoresPublishFailure(t *testing.T) {
	store := newFakeStore()
	store.addDevice("A1", 650, "alice")
	publisher := &recordingPublisher{err: errors.New("broker down")}

	outcome, err := newTestIngestor(store, publisher).Ingest(context.Background(), "A1", 1300)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, outcome.Reading.Liters, 1e-9)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "A1", event.DeviceID)
	assert.Equal(t, int64(1300), event.Count)
	assert.Equal(t, outcome.Reading.Timestamp, event.Timestamp)
	assert.Equal(t, []string{"alice"}, event.Owners)
}

func TestIngest_ConcurrentDistinctDevices(t *testing.T) {
	store := newFakeStore()
	a := store.addDevice("A1", 650)
	b := store.addDevice("B1", 100)
	ingestor := NewIngestor(store, nil, zap.NewNop())

	const perDevice = 50
	var wg sync.WaitGroup
	for i := 0; i < perDevice; i++ {
		for _, id := range []string{"A1", "B1"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := ingestor.Ingest(context.Background(), id, 100)
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	counts := map[int64]int{}
	for _, log := range store.allLogs() {
		counts[log.DevicePK]++
		switch log.DevicePK {
		case a.ID:
			assert.InDelta(t, 100/650.0, log.Liters, 1e-9)
		case b.ID:
			assert.InDelta(t, 1.0, log.Liters, 1e-9)
		default:
			t.Fatalf("log attached to unexpected device %d", log.DevicePK)
		}
	}
	assert.Equal(t, perDevice, counts[a.ID])
	assert.Equal(t, perDevice, counts[b.ID])
}
