package camera

import "bytes"

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxPendingBytes caps the pipe buffer when no complete frame can be found
const maxPendingBytes = 8 << 20

// extractJPEGFrame extracts the first complete JPEG frame from buffer and
// drops everything up to its end marker.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	if len(buf) < 4 {
		return nil
	}

	startIdx := bytes.Index(buf, jpegSOI)
	if startIdx == -1 {
		// Keep a trailing 0xFF in case the marker is split across reads
		if buf[len(buf)-1] == 0xFF {
			*buffer = buf[len(buf)-1:]
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := bytes.Index(buf[startIdx+2:], jpegEOI)
	if end == -1 {
		if startIdx > 0 {
			*buffer = buf[startIdx:]
		}
		return nil
	}
	endIdx := startIdx + 2 + end + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, buf[startIdx:endIdx])
	*buffer = buf[endIdx:]

	return frame
}

// IsJPEG reports whether data starts with a JPEG SOI marker and ends with EOI
func IsJPEG(data []byte) bool {
	return len(data) >= 4 && bytes.HasPrefix(data, jpegSOI) && bytes.HasSuffix(data, jpegEOI)
}
