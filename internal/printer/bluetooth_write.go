//go:build darwin || windows

package printer

func (c bluetoothCharacteristic) Write(data []byte) error {
	_, err := c.c.Write(data)
	return err
}
