package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"framecast/internal/camera"
)

var (
	// ErrMalformedPart means the stream did not follow the part framing
	ErrMalformedPart = errors.New("malformed multipart part")
	// ErrNotJPEG means a part body is not a complete JPEG image
	ErrNotJPEG = errors.New("part body is not a JPEG image")
)

// Part is one decoded part of an MJPEG stream
type Part struct {
	Header textproto.MIMEHeader
	Data   []byte
}

// PartReader reads parts written by WritePart. Every part must carry a
// Content-Length matching its body, so the reader never needs to look ahead
// for the next boundary and returns each frame as soon as it arrives.
type PartReader struct {
	r         *bufio.Reader
	tp        *textproto.Reader
	delimiter string
}

// NewPartReader creates a reader for a stream with the given boundary
func NewPartReader(r io.Reader, boundary string) *PartReader {
	br := bufio.NewReaderSize(r, 64<<10)
	return &PartReader{r: br, tp: textproto.NewReader(br), delimiter: "--" + boundary}
}

// BoundaryFromContentType extracts the boundary parameter of a multipart
// Content-Type header
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, ok := strings.Cut(contentType, ";")
	if !ok || !strings.HasPrefix(strings.TrimSpace(mediaType), "multipart/") {
		return "", fmt.Errorf("%w: content type %q", ErrMalformedPart, contentType)
	}
	for _, p := range strings.Split(params, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		if strings.EqualFold(k, "boundary") && v != "" {
			return strings.Trim(v, `"`), nil
		}
	}
	return "", fmt.Errorf("%w: no boundary in %q", ErrMalformedPart, contentType)
}

// Next reads the next part. It returns io.EOF when the stream ends cleanly
// between parts.
func (p *PartReader) Next() (*Part, error) {
	line, err := p.readDelimiter()
	if err != nil {
		return nil, err
	}
	if line == p.delimiter+"--" {
		return nil, io.EOF
	}
	if line != p.delimiter {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrMalformedPart, p.delimiter, line)
	}

	header, err := p.tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedPart, err)
	}

	n, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedPart, header.Get("Content-Length"))
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(p.r, data); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformedPart, err)
	}

	trailer := make([]byte, 2)
	if _, err := io.ReadFull(p.r, trailer); err != nil || !bytes.Equal(trailer, []byte("\r\n")) {
		return nil, fmt.Errorf("%w: body longer than Content-Length %d", ErrMalformedPart, n)
	}

	return &Part{Header: header, Data: data}, nil
}

// NextJPEG reads the next part and checks that it is a complete JPEG
func (p *PartReader) NextJPEG() (*Part, error) {
	part, err := p.Next()
	if err != nil {
		return nil, err
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		return part, fmt.Errorf("%w: content type %q", ErrNotJPEG, ct)
	}
	if !camera.IsJPEG(part.Data) {
		return part, ErrNotJPEG
	}
	return part, nil
}

// readDelimiter skips blank lines before a boundary line
func (p *PartReader) readDelimiter() (string, error) {
	for {
		line, err := p.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return "", io.EOF
			}
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}
