package sqtype

import (
	"encoding/binary"
	"fmt"
)

// Platform identifies the console or OS an archive was built for.
// It selects the file name suffix and the byte order of archive headers.
type Platform uint8

// Known platforms, numbered as stored in the SqPack header.
const (
	PlatformWin32 Platform = iota
	PlatformPS3
	PlatformPS4
	PlatformPS5
	PlatformXbox
)

var platformNames = [...]string{
	PlatformWin32: "win32",
	PlatformPS3:   "ps3",
	PlatformPS4:   "ps4",
	PlatformPS5:   "ps5",
	PlatformXbox:  "lys",
}

// String returns the file name suffix used for the platform.
func (p Platform) String() string {
	if int(p) < len(platformNames) {
		return platformNames[p]
	}
	return fmt.Sprintf("platform(%d)", uint8(p))
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return int(p) < len(platformNames)
}

// ByteOrder returns the byte order of archive headers for the platform.
func (p Platform) ByteOrder() binary.ByteOrder {
	if p == PlatformPS3 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ParsePlatform resolves a platform from its file suffix ("win32", "ps4", ...).
func ParsePlatform(name string) (Platform, error) {
	for i, n := range platformNames {
		if n == name {
			return Platform(i), nil
		}
	}
	return 0, fmt.Errorf("unknown platform %q", name)
}
