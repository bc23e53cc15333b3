// This file implements Transport over tinygo's bluetooth stack. It is built
// with the assumption that the server is only connected to a single printer at
// a time, but keeps the bookkeeping per address so a stale disconnect event
// for an old link doesn't mark the current one as down.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

type BluetoothTransport struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	mu    sync.Mutex
	seen  map[string]bluetooth.Address
	links map[bluetooth.Address]*bluetoothLink
}

func NewBluetoothTransport(logger *slog.Logger) (*BluetoothTransport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("Couldn't enable bluetooth adapter:\n%w", err)
	}

	t := &BluetoothTransport{
		adapter: adapter,
		logger:  logger.With("src", "bluetooth"),
		seen:    map[string]bluetooth.Address{},
		links:   map[bluetooth.Address]*bluetoothLink{},
	}
	adapter.SetConnectHandler(t.onConnectionChange)

	return t, nil
}

func (t *BluetoothTransport) onConnectionChange(d bluetooth.Device, connected bool) {
	t.mu.Lock()
	l := t.links[d.Address]
	t.mu.Unlock()

	if l == nil {
		t.logger.Debug("Connection event for unknown device", "address", d.Address.String(), "connected", connected)
		return
	}
	if connected {
		t.logger.Info("Connected!", "address", d.Address.String())
		return
	}

	t.logger.Info("Disconnected!", "address", d.Address.String())
	l.connected.Store(false)
	t.mu.Lock()
	if t.links[d.Address] == l {
		delete(t.links, d.Address)
	}
	t.mu.Unlock()
}

func (t *BluetoothTransport) Scan(ctx context.Context, prefix string) (string, error) {
	devices := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)

	go func() {
		scanDone <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.HasPrefix(result.LocalName(), prefix) {
				return
			}
			select {
			case devices <- result:
				t.logger.Info("Found device", "deviceName", result.LocalName(), "address", result.Address.String())
				adapter.StopScan()
			default:
			}
		})
	}()

	select {
	case dev := <-devices:
		return t.remember(dev.Address), nil
	case err := <-scanDone:
		// the callback may have fired just before the scan returned
		select {
		case dev := <-devices:
			return t.remember(dev.Address), nil
		default:
		}
		if err == nil {
			err = errors.New("scan stopped")
		}
		return "", fmt.Errorf("Failed to scan for devices:\n%w", err)
	case <-ctx.Done():
		if err := t.adapter.StopScan(); err != nil {
			t.logger.Debug("Couldn't stop scan", "err", err)
		}
		return "", fmt.Errorf("no device named %s*: %w", prefix, ctx.Err())
	}
}

func (t *BluetoothTransport) remember(a bluetooth.Address) string {
	s := a.String()
	t.mu.Lock()
	t.seen[s] = a
	t.mu.Unlock()
	return s
}

func (t *BluetoothTransport) Connect(ctx context.Context, address string) (Link, error) {
	t.mu.Lock()
	addr, ok := t.seen[address]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("address %s hasn't been seen in a scan", address)
	}

	t.logger.Debug("Connecting to device...", "address", address)
	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}

	l := &bluetoothLink{device: device, chars: map[uint16]bluetooth.DeviceCharacteristic{}}
	if err := l.discover(t.logger); err != nil {
		device.Disconnect()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		device.Disconnect()
		return nil, err
	}
	l.connected.Store(true)

	t.mu.Lock()
	t.links[addr] = l
	t.mu.Unlock()
	return l, nil
}

type bluetoothLink struct {
	device    bluetooth.Device
	chars     map[uint16]bluetooth.DeviceCharacteristic
	connected atomic.Bool
}

// Records every characteristic with a 16 bit UUID across all services. The
// printer advertises its characteristics under more than one service.
func (l *bluetoothLink) discover(logger *slog.Logger) error {
	logger.Debug("Discovering services...")
	services, err := l.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("Failed to discover services:\n%w", err)
	}

	for _, s := range services {
		characteristics, err := s.DiscoverCharacteristics(nil)
		if err != nil {
			logger.Warn("Failed to discover characteristics", "service", s.UUID().String(), "err", err)
			continue
		}
		for _, c := range characteristics {
			if u := c.UUID(); u.Is16Bit() {
				l.chars[u.Get16Bit()] = c
			}
		}
	}
	return nil
}

func (l *bluetoothLink) Characteristic(u uint16) (Characteristic, error) {
	c, ok := l.chars[u]
	if !ok {
		return nil, errors.New("not advertised by device")
	}
	return bluetoothCharacteristic{c}, nil
}

func (l *bluetoothLink) Connected() bool {
	return l.connected.Load()
}

func (l *bluetoothLink) Disconnect() error {
	l.connected.Store(false)
	return l.device.Disconnect()
}

type bluetoothCharacteristic struct {
	c bluetooth.DeviceCharacteristic
}

// Write lives in the per-platform bluetooth_write files
var _ Characteristic = bluetoothCharacteristic{}

func (c bluetoothCharacteristic) EnableNotifications(callback func([]byte)) error {
	return c.c.EnableNotifications(callback)
}

func hasPrefix(d []byte, p ...byte) bool {
	return len(d) >= len(p) && bytes.Equal(d[:len(p)], p)
}

// Human readable form of a notification for the logs
func describeNotification(d []byte) string {
	switch {
	case len(d) == 0:
		return "empty"
	case hasPrefix(d, 0x01, 0x01):
		// the printer seems to send this whenever it accepts a write
		return "ack"
	default:
		return fmt.Sprintf("%X", d)
	}
}
