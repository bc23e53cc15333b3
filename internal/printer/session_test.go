package printer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCharacteristic struct {
	uuid   uint16
	link   *fakeLink
	notify func([]byte)
}

func (c *fakeCharacteristic) Write(data []byte) error {
	return c.link.write(data)
}

func (c *fakeCharacteristic) EnableNotifications(callback func([]byte)) error {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	c.notify = callback
	return nil
}

type fakeLink struct {
	mu          sync.Mutex
	chars       map[uint16]*fakeCharacteristic
	writes      [][]byte
	connected   bool
	disconnects int
	// writes beyond this many fail; negative means never
	failAfter  int
	writeDelay time.Duration
}

func newFakeLink(uuids ...uint16) *fakeLink {
	if len(uuids) == 0 {
		uuids = []uint16{WriteUUID, ReadUUIDs[0], ReadUUIDs[1]}
	}
	l := &fakeLink{chars: map[uint16]*fakeCharacteristic{}, connected: true, failAfter: -1}
	for _, u := range uuids {
		l.chars[u] = &fakeCharacteristic{uuid: u, link: l}
	}
	return l
}

func (l *fakeLink) write(data []byte) error {
	if l.writeDelay > 0 {
		time.Sleep(l.writeDelay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAfter >= 0 && len(l.writes) >= l.failAfter {
		return errors.New("link lost")
	}
	l.writes = append(l.writes, bytes.Clone(data))
	return nil
}

func (l *fakeLink) written() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

func (l *fakeLink) Characteristic(u uint16) (Characteristic, error) {
	c, ok := l.chars[u]
	if !ok {
		return nil, errors.New("not advertised")
	}
	return c, nil
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.disconnects++
	return nil
}

func (l *fakeLink) disconnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnects > 0
}

type fakeTransport struct {
	link         *fakeLink
	scanErr      error
	connectDelay time.Duration
}

func (t *fakeTransport) Scan(ctx context.Context, prefix string) (string, error) {
	if t.scanErr != nil {
		return "", t.scanErr
	}
	return "AA:BB:CC:DD:EE:FF", nil
}

func (t *fakeTransport) Connect(ctx context.Context, address string) (Link, error) {
	time.Sleep(t.connectDelay)
	return t.link, nil
}

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.ScanTimeout = time.Second
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.ProbeTimeout = 100 * time.Millisecond
	cfg.WriteTimeout = 100 * time.Millisecond
	return cfg
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenSendsSetupCommands(t *testing.T) {
	link := newFakeLink()
	m := NewSessionManager(&fakeTransport{link: link}, testSessionConfig(), testLogger())

	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Unexpected address %s", s.Address)
	}

	writes := link.written()
	if len(writes) != 2 || !bytes.Equal(writes[0], DisableShutdown.Bytes()) || !bytes.Equal(writes[1], SetThickness.Bytes()) {
		t.Errorf("Expecting disable-shutdown then set-thickness, got %X", writes)
	}
	for _, u := range ReadUUIDs {
		if link.chars[u].notify == nil {
			t.Errorf("Notifications not enabled on %04X", u)
		}
	}
}

func TestOpenDiscoveryFailure(t *testing.T) {
	m := NewSessionManager(&fakeTransport{scanErr: errors.New("nothing nearby")}, testSessionConfig(), testLogger())
	if _, err := m.Open(context.Background()); !errors.Is(err, ErrDiscovery) {
		t.Errorf("Expecting ErrDiscovery, got %v", err)
	}
}

func TestOpenConnectTimeout(t *testing.T) {
	link := newFakeLink()
	m := NewSessionManager(&fakeTransport{link: link, connectDelay: 300 * time.Millisecond}, testSessionConfig(), testLogger())

	if _, err := m.Open(context.Background()); !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Expecting ErrConnectTimeout, got %v", err)
	}
	// the late connection is torn down once it arrives
	eventually(t, link.disconnected)
}

func TestOpenMissingCharacteristic(t *testing.T) {
	link := newFakeLink(WriteUUID, ReadUUIDs[0])
	m := NewSessionManager(&fakeTransport{link: link}, testSessionConfig(), testLogger())

	if _, err := m.Open(context.Background()); !errors.Is(err, ErrCharacteristicNotFound) {
		t.Fatalf("Expecting ErrCharacteristicNotFound, got %v", err)
	}
	if !link.disconnected() {
		t.Error("Link should be disconnected after a failed open")
	}
}

func TestWriteStopsAtFirstFailure(t *testing.T) {
	link := newFakeLink()
	m := NewSessionManager(&fakeTransport{link: link}, testSessionConfig(), testLogger())
	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	link.mu.Lock()
	link.failAfter = 2 + 2
	link.mu.Unlock()

	f := Frame{{1}, {2}, {3}, {4}, {5}}
	if err := m.Write(context.Background(), s, f); !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("Expecting ErrWriteFailure, got %v", err)
	}
	if n := len(link.written()); n != 4 {
		t.Errorf("Expecting 4 writes to reach the device, got %d", n)
	}
}

func TestWriteTimeout(t *testing.T) {
	link := newFakeLink()
	m := NewSessionManager(&fakeTransport{link: link}, testSessionConfig(), testLogger())
	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	link.writeDelay = 300 * time.Millisecond
	if err := m.Write(context.Background(), s, Frame{{1}}); !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("Expecting ErrWriteTimeout, got %v", err)
	}
}

func TestIsHealthy(t *testing.T) {
	link := newFakeLink()
	m := NewSessionManager(&fakeTransport{link: link}, testSessionConfig(), testLogger())
	s, err := m.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !m.IsHealthy(context.Background(), s) {
		t.Fatal("Fresh session should be healthy")
	}
	writes := link.written()
	if !bytes.Equal(writes[len(writes)-1], CheckMacAddress.Bytes()) {
		t.Errorf("Probe should write check-mac-address, got %X", writes[len(writes)-1])
	}

	m.Close(s)
	if m.IsHealthy(context.Background(), s) {
		t.Error("Closed session shouldn't be healthy")
	}
	if m.IsHealthy(context.Background(), nil) {
		t.Error("nil session shouldn't be healthy")
	}
}
