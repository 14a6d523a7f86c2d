package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestExtractJPEGFrame(t *testing.T) {
	a := sampleJPEG(t, 8, 8)
	b := sampleJPEG(t, 4, 4)

	buf := append([]byte{0x00, 0x01, 0x02}, a...)
	buf = append(buf, b[:10]...)

	got := extractJPEGFrame(&buf)
	require.Equal(t, a, got)
	assert.Equal(t, b[:10], buf, "partial frame is retained")

	assert.Nil(t, extractJPEGFrame(&buf), "incomplete frame yields nothing")

	buf = append(buf, b[10:]...)
	assert.Equal(t, b, extractJPEGFrame(&buf))
	assert.Empty(t, buf)
}

func TestExtractJPEGFrameDiscardsGarbage(t *testing.T) {
	buf := []byte{0x10, 0x20, 0x30, 0x40, 0xFF}
	assert.Nil(t, extractJPEGFrame(&buf))
	assert.Equal(t, []byte{0xFF}, buf, "possible split marker is kept")

	buf = []byte{0x10, 0x20, 0x30, 0x40}
	assert.Nil(t, extractJPEGFrame(&buf))
	assert.Empty(t, buf)
}

func TestIsJPEG(t *testing.T) {
	assert.True(t, IsJPEG(sampleJPEG(t, 2, 2)))
	assert.False(t, IsJPEG([]byte("not a jpeg")))
	assert.False(t, IsJPEG(nil))
}

func TestNewSourceDispatch(t *testing.T) {
	tests := []struct {
		device string
		want   any
	}{
		{"pattern", &PatternSource{}},
		{"pattern:bars", &PatternSource{}},
		{"http://10.0.0.5/snapshot.jpg", &HTTPSource{}},
		{"http://10.0.0.5/cgi-bin/image", &HTTPSource{}},
		{"rtsp://10.0.0.5/stream1", &FFmpegSource{}},
		{"http://10.0.0.5/video.mjpg", &FFmpegSource{}},
		{"/dev/video0", &FFmpegSource{}},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			src, err := NewSource(Config{Name: "cam", Device: tt.device, FPS: 30})
			require.NoError(t, err)
			assert.IsType(t, tt.want, src)
		})
	}

	_, err := NewSource(Config{Name: "cam", Device: "  "})
	assert.Error(t, err)
}

func TestConfigInterval(t *testing.T) {
	assert.Equal(t, time.Second/30, Config{FPS: 30}.Interval())
	assert.Equal(t, time.Second, Config{}.Interval())
}

func TestFFmpegQScale(t *testing.T) {
	assert.Equal(t, 31, ffmpegQScale(1))
	assert.Equal(t, 2, ffmpegQScale(100))
	assert.Equal(t, 31, ffmpegQScale(-5))
	assert.Equal(t, 2, ffmpegQScale(500))

	mid := ffmpegQScale(50)
	assert.Greater(t, mid, 2)
	assert.Less(t, mid, 31)
}

func TestFFmpegArgs(t *testing.T) {
	rtsp := NewFFmpegSource(Config{Device: "rtsp://cam/1", Width: 640, Height: 360, FPS: 15, Quality: 50})
	args := rtsp.args()
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "scale=640:360")
	assert.Equal(t, "-", args[len(args)-1])

	v4l2 := NewFFmpegSource(Config{Device: "/dev/video0", Width: 320, Height: 240, FPS: 30})
	args = v4l2.args()
	assert.Contains(t, args, "v4l2")
	assert.Contains(t, args, "320x240")
	assert.NotContains(t, args, "-rtsp_transport")
	assert.Equal(t, []string{"-nostats", "-loglevel", "error"}, args[:3])
}

func TestFFmpegOpenMissingDevice(t *testing.T) {
	src := NewFFmpegSource(Config{Device: "/dev/does-not-exist-framecast"})
	err := src.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestFFmpegSourceSurvivesChattyStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}

	dir := t.TempDir()
	jpg := sampleJPEG(t, 8, 8)
	jpgPath := filepath.Join(dir, "frame.jpg")
	require.NoError(t, os.WriteFile(jpgPath, jpg, 0o644))

	// About 200KB of carriage-return progress output before the first frame
	script := `#!/bin/sh
i=0
while [ $i -lt 3000 ]; do
  printf 'frame=%5d fps=30 q=5.0 size=    1024kB time=00:00:01.00 bitrate=1000kbits/s speed=1x    \r' $i >&2
  i=$((i+1))
done
while true; do
  cat "` + jpgPath + `"
  sleep 0.05
done
`
	fake := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	src := NewFFmpegSource(Config{Name: "chatty", Device: "rtsp://camera.invalid/stream", Width: 8, Height: 8, FPS: 20, Quality: 50})
	src.FFmpegPath = fake
	require.NoError(t, src.Open(t.Context()))
	defer src.Close()

	var got *Capture
	require.Eventually(t, func() bool {
		c, err := src.Next(t.Context())
		if err != nil {
			return false
		}
		got = c
		return true
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, jpg, got.JPEG)
}

func TestEncoderScales(t *testing.T) {
	enc := Encoder{Width: 20, Height: 10, Quality: 70}
	data, err := enc.Encode(image.NewRGBA(image.Rect(0, 0, 64, 48)))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
}

func TestEncoderKeepsSizeWhenUnset(t *testing.T) {
	data, err := Encoder{}.Encode(image.NewRGBA(image.Rect(0, 0, 33, 17)))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 33, img.Bounds().Dx())
	assert.Equal(t, 17, img.Bounds().Dy())
}

func TestPatternSource(t *testing.T) {
	src := NewPatternSource(Config{Name: "test", Width: 160, Height: 90})

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, src.Open(context.Background()))
	c, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Image)
	assert.Nil(t, c.JPEG)
	assert.Equal(t, image.Rect(0, 0, 160, 90), c.Image.Bounds())
	assert.False(t, c.CapturedAt.IsZero())

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestHTTPSource(t *testing.T) {
	payload := sampleJPEG(t, 8, 8)
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	src := NewHTTPSource(Config{Name: "ipcam", Device: srv.URL + "/snapshot.jpg"})
	require.NoError(t, src.Open(context.Background()))

	c, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, c.JPEG)

	failing.Store(true)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, src.Close())
}

func TestHTTPSourceOpenRejectsNonJPEG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	src := NewHTTPSource(Config{Name: "ipcam", Device: srv.URL + "/image"})
	err := src.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
