// This file implements the fixed command byte sequences understood by LuckP
// D1 printers, plus the ESC/POS raster header used by the raw row format.
package printer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Device constants for the LuckP D1
const (
	NamePrefix = "LuckP_D1"
	PrintWidth = 384

	WriteUUID uint16 = 0xFF02
)

// Characteristics the printer uses to report back; both are required
var ReadUUIDs = [...]uint16{0xFF01, 0xFF03}

// Control characters
const (
	Esc = 0x1B
	GS  = 0x1D
)

// A fixed command sent verbatim to the printer
type Command int

const (
	// Queries the MAC address, used as a cheap liveness probe
	CheckMacAddress Command = iota
	// Stops the printer powering itself off while idle
	DisableShutdown
	EnablePrinter
	// Sets the print density
	SetThickness
	// Feeds the paper forward by 64 dots
	PrintLineFeed
	// Ends the current job; the printer starts printing once it arrives
	StopPrintJobs
	// Zero padding the firmware expects after raw image data
	WakeMagic
	commandCount
)

var commandNames = [commandCount]string{
	CheckMacAddress: "check-mac-address",
	DisableShutdown: "disable-shutdown",
	EnablePrinter:   "enable-printer",
	SetThickness:    "set-thickness",
	PrintLineFeed:   "print-line-feed",
	StopPrintJobs:   "stop-print-jobs",
	WakeMagic:       "wake-magic",
}

// Built once at startup and never handed out directly
var commandTable = [commandCount][]byte{
	CheckMacAddress: mustDecodeHex("10 FF 30 12"),
	DisableShutdown: mustDecodeHex("10 FF 12 00 00"),
	EnablePrinter:   mustDecodeHex("10 FF F1 03"),
	SetThickness:    mustDecodeHex("10 FF 10 00 03"),
	PrintLineFeed:   mustDecodeHex("1B 4A 40"),
	StopPrintJobs:   mustDecodeHex("10 FF F1 45"),
	WakeMagic:       mustDecodeHex(strings.Repeat("00", 3096)),
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(fmt.Sprintf("printer: bad command constant %q: %v", s, err))
	}
	return b
}

func (c Command) String() string {
	if c < 0 || c >= commandCount {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commandNames[c]
}

// Returns a copy of the command bytes
func (c Command) Bytes() []byte {
	return bytes.Clone(commandTable[c])
}

// The command as a single chunk frame
func (c Command) Frame() Frame {
	return Frame{c.Bytes()}
}

// Prepares the printer to print bitmap data specified by the width and height passed in.
// widthBytes specifies the width of the bitmap data in bytes, with 8 pixels packed into 1 byte.
// heightBits specifies the height of the bitmap data in rows.
// After this command is written, (widthBytes * heightBits) bytes of data must then be written
func printBitmapHeader(widthBytes byte, heightBits uint16) []byte {
	return []byte{
		GS, 0x76, 0x30, 0x00,
		widthBytes, 0x00,
		byte(heightBits & 0xFF), byte(heightBits >> 8),
	}
}
