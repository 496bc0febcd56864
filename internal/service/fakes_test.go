package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/septivank/water-meter-relay/internal/db"
	"github.com/septivank/water-meter-relay/internal/mq"
	"github.com/septivank/water-meter-relay/internal/repository"
)

// fakeStore is an in-memory repository.Store. Transactions are serialised and
// roll back last_seen updates and logs when fn fails.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	devices map[string]*db.Device
	owners  map[int64][]string
	logs    []db.WaterLog
	nextID  int64

	failOn  string
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices: make(map[string]*db.Device),
		owners:  make(map[int64][]string),
	}
}

func (s *fakeStore) addDevice(deviceID string, factor float64, owners ...string) *db.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	device := &db.Device{ID: s.nextID, DeviceID: deviceID, PulseToLiter: factor}
	s.devices[deviceID] = device
	s.owners[device.ID] = owners
	return device
}

func (s *fakeStore) fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = op
	s.failErr = err
}

func (s *fakeStore) failing(op string) error {
	if s.failOn == op {
		return s.failErr
	}
	return nil
}

func (s *fakeStore) device(deviceID string) db.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.devices[deviceID]
}

func (s *fakeStore) allLogs() []db.WaterLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.WaterLog(nil), s.logs...)
}

func (s *fakeStore) FindDevice(_ context.Context, deviceID string) (*db.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("find"); err != nil {
		return nil, err
	}
	device, ok := s.devices[deviceID]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	copied := *device
	return &copied, nil
}

func (s *fakeStore) UpdateLastSeen(_ context.Context, device *db.Device, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("update"); err != nil {
		return err
	}
	stored, ok := s.devices[device.DeviceID]
	if !ok {
		return repository.ErrDeviceNotFound
	}
	stored.LastSeen = &at
	device.LastSeen = &at
	return nil
}

func (s *fakeStore) CreateLog(_ context.Context, device *db.Device, count int64, liters float64, at time.Time) (*db.WaterLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("create"); err != nil {
		return nil, err
	}
	log := db.WaterLog{ID: int64(len(s.logs) + 1), DevicePK: device.ID, Count: count, Liters: liters, CreatedAt: at}
	s.logs = append(s.logs, log)
	return &log, nil
}

func (s *fakeStore) OwnersOf(_ context.Context, device *db.Device) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("owners"); err != nil {
		return nil, err
	}
	return append([]string(nil), s.owners[device.ID]...), nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	logCount := len(s.logs)
	lastSeen := make(map[string]*time.Time, len(s.devices))
	for id, d := range s.devices {
		lastSeen[id] = d.LastSeen
	}
	s.mu.Unlock()

	err := fn(s)
	if err == nil {
		s.mu.Lock()
		err = s.failing("commit")
		s.mu.Unlock()
	}
	if err != nil {
		s.mu.Lock()
		s.logs = s.logs[:logCount]
		for id, d := range s.devices {
			d.LastSeen = lastSeen[id]
		}
		s.mu.Unlock()
	}
	return err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.ReadingEvent
	err    error
}

func (p *recordingPublisher) PublishReading(_ context.Context, event mq.ReadingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type fakeConn struct {
	id     string
	err    error
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) received() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}
