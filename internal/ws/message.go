package ws

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary frame message: 1 byte type + 8 bytes sequence + 4 bytes length + JPEG
const (
	FrameTypeJPEG   byte = 0
	FrameHeaderSize      = 13
)

// ErrShortMessage means a binary message is smaller than its header claims
var ErrShortMessage = errors.New("short frame message")

// FrameMessage is a decoded binary frame
type FrameMessage struct {
	Type byte
	Seq  uint64
	Data []byte
}

// EncodeFrame builds the binary message for one JPEG frame
func EncodeFrame(seq uint64, data []byte) []byte {
	msg := make([]byte, FrameHeaderSize+len(data))
	msg[0] = FrameTypeJPEG
	binary.BigEndian.PutUint64(msg[1:9], seq)
	binary.BigEndian.PutUint32(msg[9:13], uint32(len(data)))
	copy(msg[FrameHeaderSize:], data)
	return msg
}

// DecodeFrame parses a binary message produced by EncodeFrame
func DecodeFrame(msg []byte) (*FrameMessage, error) {
	if len(msg) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(msg))
	}
	n := binary.BigEndian.Uint32(msg[9:13])
	if uint64(len(msg)-FrameHeaderSize) != uint64(n) {
		return nil, fmt.Errorf("%w: header says %d, got %d", ErrShortMessage, n, len(msg)-FrameHeaderSize)
	}
	return &FrameMessage{
		Type: msg[0],
		Seq:  binary.BigEndian.Uint64(msg[1:9]),
		Data: msg[FrameHeaderSize:],
	}, nil
}
