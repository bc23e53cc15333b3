package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Finds and connects to printers. BluetoothTransport is the real one.
type Transport interface {
	// Blocks until a device whose advertised name starts with prefix is
	// seen, returning its address, or until ctx is done
	Scan(ctx context.Context, prefix string) (string, error)
	Connect(ctx context.Context, address string) (Link, error)
}

// An open connection to a single device
type Link interface {
	Characteristic(uuid uint16) (Characteristic, error)
	Connected() bool
	Disconnect() error
}

type Characteristic interface {
	// Acknowledged write; returns once the device has confirmed the data
	Write(data []byte) error
	EnableNotifications(callback func(data []byte)) error
}

type SessionConfig struct {
	NamePrefix     string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	WriteTimeout   time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		NamePrefix:     NamePrefix,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 2 * time.Second,
		ProbeTimeout:   1 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// A connected printer with its characteristics resolved and setup done.
// Only the goroutine that opened it, or the one it was handed to, uses it.
type Session struct {
	ID       uuid.UUID
	Address  string
	OpenedAt time.Time

	link   Link
	writer Characteristic
}

func (s *Session) String() string {
	return fmt.Sprintf("Session(%s, %s)", s.ID, s.Address)
}

type SessionManager struct {
	transport Transport
	cfg       SessionConfig
	logger    *slog.Logger
}

func NewSessionManager(t Transport, cfg SessionConfig, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		transport: t,
		cfg:       cfg,
		logger:    logger.With("src", "session"),
	}
}

// Scans for the printer, connects, resolves its characteristics and sends the
// setup commands. Safe to call again after a session has failed.
func (m *SessionManager) Open(ctx context.Context) (*Session, error) {
	m.logger.Info("Scanning for printer", "prefix", m.cfg.NamePrefix)
	address, err := m.scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	m.logger.Info("Connecting to printer", "address", address)
	link, err := race(ctx, m.cfg.ConnectTimeout, ErrConnectTimeout,
		func() (Link, error) {
			return m.transport.Connect(ctx, address)
		},
		func(l Link) {
			// connected after we gave up on it
			l.Disconnect()
		},
	)
	if err != nil {
		if errors.Is(err, ErrConnectTimeout) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s := &Session{
		ID:       uuid.New(),
		Address:  address,
		OpenedAt: time.Now(),
		link:     link,
	}
	if err := m.setup(ctx, s); err != nil {
		link.Disconnect()
		return nil, err
	}

	m.logger.Info("Printer session open", "session", s.ID, "address", address)
	return s, nil
}

func (m *SessionManager) scan(ctx context.Context) (string, error) {
	if m.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ScanTimeout)
		defer cancel()
	}
	return m.transport.Scan(ctx, m.cfg.NamePrefix)
}

func (m *SessionManager) setup(ctx context.Context, s *Session) error {
	writer, err := s.link.Characteristic(WriteUUID)
	if err != nil {
		return fmt.Errorf("%w: write %04X: %v", ErrCharacteristicNotFound, WriteUUID, err)
	}
	s.writer = writer

	for _, u := range ReadUUIDs {
		c, err := s.link.Characteristic(u)
		if err != nil {
			return fmt.Errorf("%w: read %04X: %v", ErrCharacteristicNotFound, u, err)
		}
		if err := c.EnableNotifications(m.notificationHandler(s, u)); err != nil {
			m.logger.Warn("Couldn't enable notifications", "uuid", fmt.Sprintf("%04X", u), "err", err)
		}
	}

	for _, c := range []Command{DisableShutdown, SetThickness} {
		if err := m.Write(ctx, s, c.Frame()); err != nil {
			return fmt.Errorf("Couldn't send %s:\n%w", c, err)
		}
	}
	return nil
}

func (m *SessionManager) notificationHandler(s *Session, u uint16) func([]byte) {
	return func(d []byte) {
		m.logger.Debug("Received notification",
			"session", s.ID,
			"uuid", fmt.Sprintf("%04X", u),
			"data", describeNotification(d),
		)
	}
}

// Writes each chunk of the frame in order, stopping at the first one that fails
func (m *SessionManager) Write(ctx context.Context, s *Session, f Frame) error {
	for i, chunk := range f {
		_, err := race(ctx, m.cfg.WriteTimeout, ErrWriteTimeout,
			func() (struct{}, error) {
				return struct{}{}, s.writer.Write(chunk)
			},
			nil,
		)
		if err != nil {
			if !errors.Is(err, ErrWriteTimeout) {
				err = fmt.Errorf("%w: %w", ErrWriteFailure, err)
			}
			return fmt.Errorf("chunk %d of %d: %w", i+1, len(f), err)
		}
	}

	m.logger.Debug("Wrote frame", "session", s.ID, "chunks", len(f), "size", f.Size())
	return nil
}

// Reports whether the link is up and the printer answers a probe
func (m *SessionManager) IsHealthy(ctx context.Context, s *Session) bool {
	if s == nil || s.link == nil || !s.link.Connected() {
		return false
	}

	_, err := race(ctx, m.cfg.ProbeTimeout, ErrWriteTimeout,
		func() (struct{}, error) {
			return struct{}{}, s.writer.Write(CheckMacAddress.Bytes())
		},
		nil,
	)
	if err != nil {
		m.logger.Warn("Health probe failed", "session", s.ID, "err", err)
		return false
	}
	return true
}

func (m *SessionManager) Close(s *Session) {
	if s == nil || s.link == nil {
		return
	}
	if err := s.link.Disconnect(); err != nil {
		m.logger.Warn("Couldn't disconnect", "session", s.ID, "err", err)
		return
	}
	m.logger.Info("Printer session closed", "session", s.ID)
}

// Runs f in its own goroutine and waits for it, giving up once d has elapsed
// or ctx is done. The radio stack can't cancel a call in flight, so f carries
// on in the background; abandon, if set, receives whatever it eventually
// returns successfully. d <= 0 means no limit beyond ctx.
func race[T any](ctx context.Context, d time.Duration, timeoutErr error, f func() (T, error), abandon func(T)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		if abandon != nil {
			go func() {
				if r := <-done; r.err == nil {
					abandon(r.v)
				}
			}()
		}
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %v", timeoutErr, d)
		}
		return zero, ctx.Err()
	}
}
