package state

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownDevice is returned for device names the store does not track
var ErrUnknownDevice = errors.New("unknown device")

type deviceEntry struct {
	Device
	// seq of the newest information applied to On
	seq uint64
	// seq of the command currently in flight, zero when idle
	pendingSeq uint64
}

// Store holds the dashboard state. Every poll or command takes a ticket
// before it starts; results are applied only when their ticket is newer
// than whatever was last applied to the same metric or device, so a slow
// response can never overwrite a newer one.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     uint64
	version uint64

	applied map[Metric]uint64

	distance Distance
	climate  Climate
	touch    Touch
	counter  Counter
	mode     ModeState

	devices map[string]*deviceEntry
	order   []string

	subs    map[int]chan Snapshot
	nextSub int
}

// NewStore creates a store tracking the named devices in display order
func NewStore(devices []string) *Store {
	s := &Store{
		now:     time.Now,
		applied: make(map[Metric]uint64),
		devices: make(map[string]*deviceEntry, len(devices)),
		subs:    make(map[int]chan Snapshot),
	}
	for _, name := range devices {
		if _, dup := s.devices[name]; dup {
			continue
		}
		s.devices[name] = &deviceEntry{Device: Device{Name: name}}
		s.order = append(s.order, name)
	}
	return s
}

// Ticket returns a sequence number ordering a request against all others
func (s *Store) Ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// claim reports whether seq is the newest result for metric and records it.
// Caller must hold mu.
func (s *Store) claim(metric Metric, seq uint64) bool {
	if seq <= s.applied[metric] {
		return false
	}
	s.applied[metric] = seq
	return true
}

func (s *Store) status(h Health) Status {
	return Status{Health: h, UpdatedAt: s.now()}
}

// ApplyDistance records a distance reading. It returns false when a newer
// result was already applied.
func (s *Store) ApplyDistance(seq uint64, d Distance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(MetricDistance, seq) {
		return false
	}
	d.Status = s.status(HealthOK)
	s.distance = d
	s.changed()
	return true
}

// ApplyClimate records a temperature and humidity reading
func (s *Store) ApplyClimate(seq uint64, temperature, humidity float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(MetricClimate, seq) {
		return false
	}
	s.climate = Climate{Status: s.status(HealthOK), Temperature: temperature, Humidity: humidity}
	s.changed()
	return true
}

// ApplyTouch records a touch reading
func (s *Store) ApplyTouch(seq uint64, touched bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(MetricTouch, seq) {
		return false
	}
	s.touch = Touch{Status: s.status(HealthOK), Touched: touched}
	s.changed()
	return true
}

// ApplyCounter records a counter reading
func (s *Store) ApplyCounter(seq uint64, value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(MetricCounter, seq) {
		return false
	}
	s.counter = Counter{Status: s.status(HealthOK), Value: value, Seen: true}
	s.changed()
	return true
}

// ApplyMode records the observed control regime
func (s *Store) ApplyMode(seq uint64, mode Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(MetricMode, seq) {
		return false
	}
	s.mode = ModeState{Status: s.status(HealthOK), Mode: mode}
	s.changed()
	return true
}

// Fail records a failed poll of metric. Previous values are kept; only the
// health changes.
func (s *Store) Fail(metric Metric, seq uint64, health Health) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claim(metric, seq) {
		return false
	}
	st := s.status(health)
	switch metric {
	case MetricDistance:
		s.distance.Status = st
	case MetricClimate:
		s.climate.Status = st
	case MetricTouch:
		s.touch.Status = st
	case MetricCounter:
		s.counter.Status = st
	case MetricMode:
		s.mode.Status = st
	}
	s.changed()
	return true
}

// ApplyDevices records polled device states. Unknown names are ignored and
// devices changed after seq was issued keep their newer value. It returns
// the number of devices updated.
func (s *Store) ApplyDevices(seq uint64, states map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for name, on := range states {
		d, ok := s.devices[name]
		if !ok || seq <= d.seq {
			continue
		}
		d.seq = seq
		d.On = on
		d.UpdatedAt = s.now()
		updated++
	}
	if updated > 0 {
		s.changed()
	}
	return updated
}

// DeviceChange is an optimistic device update awaiting confirmation
type DeviceChange struct {
	Device   string
	Seq      uint64
	Previous bool
	Desired  bool
}

// BeginDeviceChange shows the desired state immediately and marks the
// device pending
func (s *Store) BeginDeviceChange(name string, on bool) (DeviceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[name]
	if !ok {
		return DeviceChange{}, ErrUnknownDevice
	}
	s.seq++
	change := DeviceChange{Device: name, Seq: s.seq, Previous: d.On, Desired: on}

	d.seq = change.Seq
	d.pendingSeq = change.Seq
	d.On = on
	d.Pending = true
	d.LastError = ""
	d.UpdatedAt = s.now()
	s.changed()
	return change, nil
}

// CompleteDeviceChange settles an optimistic update. On failure the
// previous state is restored unless newer information arrived meanwhile.
func (s *Store) CompleteDeviceChange(change DeviceChange, cmdErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[change.Device]
	if !ok || d.pendingSeq != change.Seq {
		return
	}
	d.pendingSeq = 0
	d.Pending = false
	if cmdErr != nil {
		d.LastError = cmdErr.Error()
		if d.seq == change.Seq {
			d.On = change.Previous
		}
	}
	d.UpdatedAt = s.now()
	s.changed()
}

// Mode returns the last observed control regime
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode.Mode
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) snapshot() Snapshot {
	snap := Snapshot{
		Version:  s.version,
		Distance: s.distance,
		Climate:  s.climate,
		Touch:    s.touch,
		Counter:  s.counter,
		Mode:     s.mode,
		Devices:  make([]Device, 0, len(s.order)),
	}
	for _, name := range s.order {
		snap.Devices = append(snap.Devices, s.devices[name].Device)
	}
	return snap
}

// Subscribe returns a channel receiving the latest snapshot after every
// change. Slow subscribers only ever see the newest snapshot. Call the
// returned function to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// changed bumps the version and notifies subscribers. Caller must hold mu,
// which also keeps deliveries in version order.
func (s *Store) changed() {
	s.version++
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshot()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
