package devicehub

import (
	"testing"
	"time"
)

func newTestRegistry(clock func() time.Time) *Registry {
	return NewRegistry(RegistryConfig{Clock: clock})
}

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time {
		return time.Unix(seconds, 0).UTC()
	}
}

func drainOne(t *testing.T, conn *Connection) Envelope {
	t.Helper()
	select {
	case envelope, ok := <-conn.Stream():
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return envelope
	default:
		t.Fatal("expected a buffered envelope")
	}
	return Envelope{}
}

func TestRegisterAcknowledgesAndListens(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))

	conn, err := registry.Register("owner-1", "nodemcu-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.State() != StateListening {
		t.Fatalf("expected listening state, got %s", conn.State())
	}

	ack := drainOne(t, conn)
	if ack.Event != EventRegistrationSuccess {
		t.Fatalf("unexpected ack event: %s", ack.Event)
	}
	if ack.Data["deviceId"] != "nodemcu-01" {
		t.Fatalf("ack must carry the assigned device id: %v", ack.Data)
	}
}

func TestRegisterAssignsDeviceIDWhenBlank(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))

	conn, err := registry.Register("owner-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.DeviceID == "" {
		t.Fatal("expected an assigned device id")
	}
}

func TestRegisterRequiresTenant(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))

	if _, err := registry.Register("", "nodemcu-01"); err != ErrMissingTenant {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}

func TestLastRegistrationWins(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))

	first, err := registry.Register("owner-1", "nodemcu-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := registry.Register("owner-1", "nodemcu-02")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.State() != StateDisconnected {
		t.Fatalf("replaced connection must be disconnected, got %s", first.State())
	}
	boundDevice, ok := registry.DeviceFor("owner-1")
	if !ok || boundDevice != "nodemcu-02" {
		t.Fatalf("unexpected binding: %s %v", boundDevice, ok)
	}
	if second.State() != StateListening {
		t.Fatalf("new connection must be listening, got %s", second.State())
	}
}

func TestPushWithoutDeviceIsNotListening(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))

	if registry.Push("owner-1", "qr-scan-response", map[string]any{"status": "success"}) {
		t.Fatal("push with no bound device must report not listening")
	}
}

func TestPushDeliversToBoundDevice(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))
	conn, err := registry.Register("owner-1", "nodemcu-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainOne(t, conn) // registration ack

	if !registry.Push("owner-1", "qr-scan-response", map[string]any{"nodeMcuResponse": "allow"}) {
		t.Fatal("expected push to be delivered")
	}
	envelope := drainOne(t, conn)
	if envelope.Event != "qr-scan-response" {
		t.Fatalf("unexpected event: %s", envelope.Event)
	}
	if envelope.Data["nodeMcuResponse"] != "allow" {
		t.Fatalf("unexpected payload: %v", envelope.Data)
	}
}

func TestDisconnectRemovesBinding(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))
	conn, err := registry.Register("owner-1", "nodemcu-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	registry.Disconnect(conn)
	if _, ok := registry.DeviceFor("owner-1"); ok {
		t.Fatal("binding must be removed on disconnect")
	}
	if registry.Push("owner-1", "qr-scan-response", nil) {
		t.Fatal("push after disconnect must report not listening")
	}
}

func TestDisconnectOfReplacedConnectionKeepsNewBinding(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))
	first, err := registry.Register("owner-1", "nodemcu-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err = registry.Register("owner-1", "nodemcu-02"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The replaced transport closing later must not evict the new binding.
	registry.Disconnect(first)
	boundDevice, ok := registry.DeviceFor("owner-1")
	if !ok || boundDevice != "nodemcu-02" {
		t.Fatalf("unexpected binding after stale disconnect: %s %v", boundDevice, ok)
	}
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	now := int64(1700000000)
	clock := func() time.Time { return time.Unix(now, 0).UTC() }
	registry := newTestRegistry(clock)
	conn, err := registry.Register("owner-1", "nodemcu-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainOne(t, conn)

	now += 6 * 60 // past the liveness window
	devices := registry.Devices()
	if len(devices) != 1 || devices[0].Online {
		t.Fatalf("expected offline device, got %+v", devices)
	}

	if !registry.Heartbeat("owner-1") {
		t.Fatal("heartbeat for bound device must succeed")
	}
	devices = registry.Devices()
	if !devices[0].Online {
		t.Fatalf("heartbeat must restore liveness: %+v", devices)
	}
	heartbeatResponse := drainOne(t, conn)
	if heartbeatResponse.Event != EventHeartbeatResponse {
		t.Fatalf("unexpected event: %s", heartbeatResponse.Event)
	}
}

func TestHeartbeatWithoutBinding(t *testing.T) {
	registry := newTestRegistry(fixedClock(1700000000))
	if registry.Heartbeat("owner-1") {
		t.Fatal("heartbeat without a binding must report false")
	}
}
