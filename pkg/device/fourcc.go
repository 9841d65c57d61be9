package device

import (
	"fmt"
	"strings"
)

// FourCC packs a four character code the way V4L2 does (first byte lowest).
func FourCC(code string) (uint32, error) {
	if len(code) != 4 {
		return 0, fmt.Errorf("device: fourcc %q must be 4 characters", code)
	}
	return uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24, nil
}

// FourCCString unpacks a V4L2 pixel format code. Trailing spaces are trimmed.
func FourCCString(v uint32) string {
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return strings.TrimRight(string(b), " \x00")
}
