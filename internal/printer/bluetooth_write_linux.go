//go:build linux

package printer

// BlueZ's WriteValue without a "type" option performs a write request when the
// characteristic supports it and only returns once the peripheral replies.
// tinygo exposes that call as WriteWithoutResponse on linux and has no Write.
func (c bluetoothCharacteristic) Write(data []byte) error {
	_, err := c.c.WriteWithoutResponse(data)
	return err
}
