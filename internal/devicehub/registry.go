package devicehub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names on the device channel.
const (
	EventRegistrationSuccess = "registration-success"
	EventHeartbeatResponse   = "heartbeat-response"
)

const (
	defaultLivenessWindow = 5 * time.Minute
	defaultStreamBuffer   = 16
)

// ErrMissingTenant indicates a registration without a gym owner id.
var ErrMissingTenant = errors.New("devicehub: gym owner id is required")

// State tracks a device connection through its lifecycle.
type State string

const (
	StateConnected    State = "connected"
	StateRegistered   State = "registered"
	StateListening    State = "listening"
	StateDisconnected State = "disconnected"
)

// Envelope is one message delivered over a device's stream.
type Envelope struct {
	Event      string         `json:"event"`
	Timestamp  time.Time      `json:"timestamp"`
	GymOwnerID string         `json:"gymOwnerId"`
	Data       map[string]any `json:"data,omitempty"`
}

// Connection is one device's ephemeral binding: the handle exists only while
// the transport is open and is never persisted.
type Connection struct {
	id          int64
	TenantID    string
	DeviceID    string
	ConnectedAt time.Time

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
	stream        chan Envelope
}

// Stream exposes the envelope channel the transport drains.
func (c *Connection) Stream() <-chan Envelope {
	return c.stream
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHeartbeat returns the most recent liveness stamp.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// shutdown marks the connection disconnected and closes its stream exactly
// once. Sends hold the same lock, so no send can race the close.
func (c *Connection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected
	close(c.stream)
}

// enqueue delivers without blocking; a full or closed stream drops the
// envelope.
func (c *Connection) enqueue(envelope Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	select {
	case c.stream <- envelope:
		return true
	default:
		return false
	}
}

func (c *Connection) stampHeartbeat(at time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = at
	c.mu.Unlock()
}

// RegistryConfig configures the device registry.
type RegistryConfig struct {
	Liveness     time.Duration
	StreamBuffer int
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Registry holds the in-memory tenant-to-connection map. One controller per
// tenant is assumed active at a time; a new registration replaces the prior
// binding. Registrations and disconnects mutate under the lock; pushes read
// under the shared lock and never block the caller.
type Registry struct {
	mu       sync.RWMutex
	byTenant map[string]*Connection
	nextID   int64

	liveness time.Duration
	buffer   int
	clock    func() time.Time
	logger   *zap.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	liveness := cfg.Liveness
	if liveness <= 0 {
		liveness = defaultLivenessWindow
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byTenant: make(map[string]*Connection),
		liveness: liveness,
		buffer:   buffer,
		clock:    clock,
		logger:   logger,
	}
}

// Register binds a device connection to the tenant, replacing any prior
// binding (last registration wins). The returned connection is already
// Listening and its stream carries the registration acknowledgement.
func (r *Registry) Register(tenantID, deviceID string) (*Connection, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	now := r.clock().UTC()
	if deviceID == "" {
		deviceID = fmt.Sprintf("device_%d", now.UnixMilli())
	}

	r.mu.Lock()
	r.nextID++
	conn := &Connection{
		id:            r.nextID,
		TenantID:      tenantID,
		DeviceID:      deviceID,
		ConnectedAt:   now,
		state:         StateConnected,
		lastHeartbeat: now,
		stream:        make(chan Envelope, r.buffer),
	}
	prior := r.byTenant[tenantID]
	r.byTenant[tenantID] = conn
	r.mu.Unlock()

	if prior != nil {
		prior.shutdown()
		r.logger.Info("device binding replaced",
			zap.String("gym_owner_id", tenantID),
			zap.String("old_device_id", prior.DeviceID),
			zap.String("new_device_id", deviceID))
	}

	conn.setState(StateRegistered)
	conn.enqueue(Envelope{
		Event:      EventRegistrationSuccess,
		Timestamp:  now,
		GymOwnerID: tenantID,
		Data: map[string]any{
			"message":  "Device registered successfully and listening for scan responses",
			"deviceId": deviceID,
			"status":   "listening",
		},
	})
	conn.setState(StateListening)

	r.logger.Info("device registered",
		zap.String("gym_owner_id", tenantID),
		zap.String("device_id", deviceID))
	return conn, nil
}

// Heartbeat refreshes the tenant's device liveness stamp without changing
// the binding. It reports whether a device is bound.
func (r *Registry) Heartbeat(tenantID string) bool {
	r.mu.RLock()
	conn := r.byTenant[tenantID]
	r.mu.RUnlock()
	if conn == nil {
		return false
	}
	now := r.clock().UTC()
	conn.stampHeartbeat(now)
	r.send(conn, Envelope{
		Event:      EventHeartbeatResponse,
		Timestamp:  now,
		GymOwnerID: tenantID,
		Data: map[string]any{
			"status":  "listening",
			"message": "Device is listening for scan responses",
		},
	})
	return true
}

// Disconnect removes the binding that owns the connection. Bindings made
// after this connection was replaced are left untouched.
func (r *Registry) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	current := r.byTenant[conn.TenantID]
	removed := current == conn
	if removed {
		delete(r.byTenant, conn.TenantID)
	}
	r.mu.Unlock()

	if removed {
		conn.shutdown()
		r.logger.Info("device disconnected",
			zap.String("gym_owner_id", conn.TenantID),
			zap.String("device_id", conn.DeviceID))
	}
}

// Push delivers a payload to the tenant's listening device. A false return
// means no device is listening; callers proceed without treating it as an
// error.
func (r *Registry) Push(tenantID, event string, data map[string]any) bool {
	r.mu.RLock()
	conn := r.byTenant[tenantID]
	r.mu.RUnlock()
	if conn == nil {
		r.logger.Debug("no device listening", zap.String("gym_owner_id", tenantID))
		return false
	}
	delivered := r.send(conn, Envelope{
		Event:      event,
		Timestamp:  r.clock().UTC(),
		GymOwnerID: tenantID,
		Data:       data,
	})
	if delivered {
		r.logger.Info("push delivered",
			zap.String("gym_owner_id", tenantID),
			zap.String("event", event))
	}
	return delivered
}

// Broadcast sends an out-of-band event (test pings, settings updates) over
// the same tenant channel as Push.
func (r *Registry) Broadcast(tenantID, event string, data map[string]any) bool {
	return r.Push(tenantID, event, data)
}

// DeviceFor reports the device id bound to the tenant, if any.
func (r *Registry) DeviceFor(tenantID string) (string, bool) {
	r.mu.RLock()
	conn := r.byTenant[tenantID]
	r.mu.RUnlock()
	if conn == nil {
		return "", false
	}
	return conn.DeviceID, true
}

// DeviceStatus is one entry of the connected-devices snapshot.
type DeviceStatus struct {
	GymOwnerID    string    `json:"gymOwnerId"`
	DeviceID      string    `json:"deviceId"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Online        bool      `json:"online"`
}

// Devices snapshots the registry. Liveness is evaluated lazily against the
// heartbeat window; offline devices are not evicted here.
func (r *Registry) Devices() []DeviceStatus {
	now := r.clock().UTC()
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]DeviceStatus, 0, len(r.byTenant))
	for tenantID, conn := range r.byTenant {
		heartbeat := conn.LastHeartbeat()
		statuses = append(statuses, DeviceStatus{
			GymOwnerID:    tenantID,
			DeviceID:      conn.DeviceID,
			ConnectedAt:   conn.ConnectedAt,
			LastHeartbeat: heartbeat,
			Online:        now.Sub(heartbeat) <= r.liveness,
		})
	}
	return statuses
}

func (r *Registry) send(conn *Connection, envelope Envelope) bool {
	if conn.enqueue(envelope) {
		return true
	}
	r.logger.Warn("device stream unavailable, dropping envelope",
		zap.String("gym_owner_id", conn.TenantID),
		zap.String("event", envelope.Event))
	return false
}
