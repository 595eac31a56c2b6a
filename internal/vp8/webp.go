package vp8

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrLossless is returned for WebP files coded with VP8L.
var ErrLossless = errors.New("vp8: VP8L lossless images are not supported")

// VP8X feature flags.
const (
	FlagAnimation = 1 << 1
	FlagXMP       = 1 << 2
	FlagEXIF      = 1 << 3
	FlagAlpha     = 1 << 4
	FlagICC       = 1 << 5
)

// Container is the chunk layout of a WebP file.
type Container struct {
	// Canvas size and feature flags from the VP8X chunk. The size is zero
	// for simple files.
	CanvasWidth  int
	CanvasHeight int
	Flags        uint8

	// Payload of the "VP8 " chunk
	Frame []byte
}

// IsWebP reports whether data starts with a RIFF WEBP header.
func IsWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// ParseContainer walks the RIFF chunks of a WebP file up to the first
// image chunk. Animated files are rejected.
func ParseContainer(data []byte) (*Container, error) {
	if !IsWebP(data) {
		return nil, errors.Wrap(ErrInvalidFormat, "missing RIFF WEBP header")
	}
	size := int(binary.LittleEndian.Uint32(data[4:8]))
	if size < 4 || 8+size > len(data) {
		return nil, errors.Wrapf(ErrInvalidFormat, "RIFF size %d, file of %d bytes", size, len(data))
	}
	data = data[12 : 8+size]

	c := &Container{}
	for len(data) >= 8 {
		fourcc := string(data[0:4])
		n := int(binary.LittleEndian.Uint32(data[4:8]))
		if n > len(data)-8 {
			return nil, errors.Wrapf(ErrInvalidFormat, "chunk %q of %d bytes, %d available", fourcc, n, len(data)-8)
		}
		payload := data[8 : 8+n]
		switch fourcc {
		case "VP8X":
			if n < 10 {
				return nil, errors.Wrapf(ErrInvalidFormat, "VP8X chunk of %d bytes", n)
			}
			c.Flags = payload[0]
			c.CanvasWidth = 1 + (int(payload[4]) | int(payload[5])<<8 | int(payload[6])<<16)
			c.CanvasHeight = 1 + (int(payload[7]) | int(payload[8])<<8 | int(payload[9])<<16)
			if c.Flags&FlagAnimation != 0 {
				return nil, errors.Wrap(ErrInvalidFormat, "animated WebP")
			}
		case "VP8 ":
			c.Frame = payload
			return c, nil
		case "VP8L":
			return nil, ErrLossless
		}
		// Chunks are padded to an even size.
		n += n & 1
		if n > len(data)-8 {
			break
		}
		data = data[8+n:]
	}
	return nil, errors.Wrap(ErrInvalidFormat, "no VP8 chunk")
}
