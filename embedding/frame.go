// Package embedding speaks the OVNT binary protocol to a standalone
// embedding service.
//
// Wire layout of one frame (integers little endian):
//
//	magic      4 bytes  "OVNT"
//	version    1 byte   0x01
//	type       1 byte   4 = DATA
//	length     4 bytes  payload length
//	sender    16 bytes  client UUID, fixed per Client
//	target     1 byte   0 = none, 1 = followed by a 16 byte UUID
//	message   16 bytes  fresh UUID per request
//	payload    length bytes of MessagePack
package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
)

var Magic = [4]byte{0x4F, 0x56, 0x4E, 0x54}

const (
	Version uint8 = 0x01

	// DefaultMaxPayloadBytes bounds the allocation made for an incoming payload.
	DefaultMaxPayloadBytes = 16 << 20

	prefixSize = 4 + 1 + 1 + 4 + 16 + 1
	uuidSize   = 16
)

// MessageType identifies the frame kind.
type MessageType uint8

const MessageTypeData MessageType = 4

// Header is everything in a frame before the payload.
type Header struct {
	Version    uint8
	Type       MessageType
	PayloadLen uint32
	Sender     uuid.UUID
	Target     *uuid.UUID
	MessageID  uuid.UUID
}

// Frame is one complete length-delimited message.
type Frame struct {
	Header
	Payload []byte
}

// Limits bounds what ReadFrame accepts.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits returns a 16 MiB payload ceiling.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: DefaultMaxPayloadBytes}
}

// EncodeFrame serializes f. Version and PayloadLen are filled in.
func EncodeFrame(f Frame) ([]byte, error) {
	if uint64(len(f.Payload)) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}

	size := prefixSize + uuidSize + len(f.Payload)
	if f.Target != nil {
		size += uuidSize
	}
	buf := make([]byte, 0, size)

	buf = append(buf, Magic[:]...)
	buf = append(buf, Version, byte(f.Type))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Sender[:]...)
	if f.Target != nil {
		buf = append(buf, 1)
		buf = append(buf, f.Target[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, f.MessageID[:]...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

// WriteFrame writes f to w with a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r. The magic and version are
// checked before anything else is read.
func ReadFrame(r io.Reader, lim Limits) (Frame, error) {
	if lim.MaxPayloadBytes == 0 {
		lim = DefaultLimits()
	}

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Frame{}, readErr(err)
	}
	if magic != Magic {
		return Frame{}, fmt.Errorf("%w: % x", ErrInvalidMagic, magic[:])
	}

	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return Frame{}, readErr(err)
	}
	if one[0] != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, one[0])
	}

	rest := make([]byte, prefixSize-5)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, readErr(err)
	}

	h := Header{
		Version:    one[0],
		Type:       MessageType(rest[0]),
		PayloadLen: binary.LittleEndian.Uint32(rest[1:5]),
	}
	copy(h.Sender[:], rest[5:21])

	switch rest[21] {
	case 0:
	case 1:
		var target uuid.UUID
		if _, err := io.ReadFull(r, target[:]); err != nil {
			return Frame{}, readErr(err)
		}
		h.Target = &target
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidTargetFlag, rest[21])
	}

	if _, err := io.ReadFull(r, h.MessageID[:]); err != nil {
		return Frame{}, readErr(err)
	}

	if h.PayloadLen > lim.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, h.PayloadLen, lim.MaxPayloadBytes)
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, readErr(err)
	}
	return Frame{Header: h, Payload: payload}, nil
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return fmt.Errorf("read frame: %w", err)
}
