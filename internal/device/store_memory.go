package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs unit tests across the
// module and single-node development runs without a database file.
type MemoryStore struct {
	mu       sync.Mutex
	devices  map[int64]*Device
	byCode   map[string]int64
	readings []Reading
	nextID   int64
	nextRead int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[int64]*Device),
		byCode:  make(map[string]int64),
	}
}

// Create inserts a new device.
func (m *MemoryStore) Create(_ context.Context, d *Device) error {
	if err := Validate(d); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byCode[d.Code]; ok {
		return ErrDeviceExists
	}

	m.nextID++
	now := millis(time.Now())
	d.ID = m.nextID
	d.Version = 1
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.LastActiveAt != nil {
		t := millis(*d.LastActiveAt)
		d.LastActiveAt = &t
	}

	m.devices[d.ID] = d.Clone()
	m.byCode[d.Code] = d.ID
	return nil
}

// FindByID retrieves a device by ID.
func (m *MemoryStore) FindByID(_ context.Context, id int64) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.Clone(), nil
}

// FindByCode retrieves a device by code.
func (m *MemoryStore) FindByCode(_ context.Context, code string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byCode[code]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return m.devices[id].Clone(), nil
}

// List returns all devices ordered by ID.
func (m *MemoryStore) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.Clone())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// RecordContact refreshes liveness.
func (m *MemoryStore) RecordContact(_ context.Context, code string, c Contact) (*ContactResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordContactLocked(code, c, nil)
}

// RecordSample refreshes liveness and appends r.
func (m *MemoryStore) RecordSample(_ context.Context, code string, c Contact, r Reading) (*ContactResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordContactLocked(code, c, &r)
}

func (m *MemoryStore) recordContactLocked(code string, c Contact, r *Reading) (*ContactResult, error) {
	id, ok := m.byCode[code]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	d := m.devices[id]

	result := &ContactResult{Promoted: d.Status != StatusActive}

	seen := millis(laterOf(d.LastActiveAt, millis(c.At)))
	d.LastActiveAt = &seen
	d.Status = StatusActive
	if c.Address != "" {
		d.Address = c.Address
	}
	if c.FirmwareVersion != "" {
		d.FirmwareVersion = c.FirmwareVersion
	}
	d.Version++
	d.UpdatedAt = millis(time.Now())

	if r != nil {
		r.DeviceID = id
		m.appendLocked(r)
		result.Reading = r
	}

	result.Device = d.Clone()
	return result, nil
}

// MarkOffline demotes the device when observed still matches.
func (m *MemoryStore) MarkOffline(_ context.Context, id int64, observed *time.Time) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, nil
	}
	if d.Status == StatusOffline || !sameInstant(d.LastActiveAt, observed) {
		return nil, nil
	}

	d.Status = StatusOffline
	d.Version++
	d.UpdatedAt = millis(time.Now())
	return d.Clone(), nil
}

// UpdateThresholds stores confirmed thresholds.
func (m *MemoryStore) UpdateThresholds(_ context.Context, id int64, t Thresholds) (*Device, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	d.Thresholds = t
	d.Version++
	d.UpdatedAt = millis(time.Now())
	return d.Clone(), nil
}

// AppendReading stores a reading.
func (m *MemoryStore) AppendReading(_ context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[r.DeviceID]; !ok {
		return ErrDeviceNotFound
	}
	m.appendLocked(r)
	return nil
}

func (m *MemoryStore) appendLocked(r *Reading) {
	m.nextRead++
	r.ID = m.nextRead
	r.Timestamp = millis(r.Timestamp)
	m.readings = append(m.readings, *r)
}

// LatestTimestamp returns the newest reading time.
func (m *MemoryStore) LatestTimestamp(_ context.Context, deviceID int64) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *time.Time
	for i := range m.readings {
		r := m.readings[i]
		if r.DeviceID == deviceID && (latest == nil || r.Timestamp.After(*latest)) {
			ts := r.Timestamp
			latest = &ts
		}
	}
	return latest, nil
}

// ListReadings returns up to limit readings, newest first.
func (m *MemoryStore) ListReadings(_ context.Context, deviceID int64, limit int) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Reading
	for _, r := range m.readings {
		if r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ForceLastActive overwrites a device's liveness fields. Tests use it to
// age devices without sleeping.
func (m *MemoryStore) ForceLastActive(id int64, status Status, lastActive *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		d.Status = status
		if lastActive != nil {
			t := millis(*lastActive)
			d.LastActiveAt = &t
		} else {
			d.LastActiveAt = nil
		}
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UnixMilli() == b.UnixMilli()
}
