// Command framecast-probe connects to a framecast /stream endpoint,
// validates every multipart part and reports the delivered frame rate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	goahttp "goa.design/goa/v3/http"

	"framecast/internal/stream"
)

func main() {
	var (
		addrF     = flag.String("url", "http://localhost:8080/stream", "Stream URL")
		tokenF    = flag.String("token", "", "JWT token (sent as Bearer)")
		durationF = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
		timeoutF  = flag.Int("timeout", 10, "Seconds to wait for the response headers")
	)
	flag.Usage = usage
	flag.Parse()

	if _, err := url.Parse(*addrF); err != nil {
		fmt.Fprintf(os.Stderr, "invalid URL %q: %v\n", *addrF, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *durationF > 0 {
		ctx, cancel = context.WithTimeout(ctx, *durationF)
		defer cancel()
	}

	var doer goahttp.Doer = &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: time.Duration(*timeoutF) * time.Second},
	}

	res, err := probe(ctx, doer, *addrF, *tokenF, os.Stdout)
	if res != nil {
		fmt.Printf("frames=%d bytes=%d elapsed=%s avg_fps=%.2f\n",
			res.Frames, res.Bytes, res.Elapsed.Round(time.Millisecond), res.FPS())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Result summarizes a probe run
type Result struct {
	Frames  int
	Bytes   int64
	Elapsed time.Duration
}

// FPS returns the average delivered frame rate
func (r *Result) FPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

// probe reads the stream until ctx ends or a malformed part arrives. It
// prints the frame rate once per second to out.
func probe(ctx context.Context, doer goahttp.Doer, target, token string, out io.Writer) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	boundary, err := stream.BoundaryFromContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	parts := stream.NewPartReader(resp.Body, boundary)

	res := &Result{}
	start := time.Now()
	windowStart, windowFrames := start, 0
	for {
		part, err := parts.NextJPEG()
		res.Elapsed = time.Since(start)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}
		res.Frames++
		res.Bytes += int64(len(part.Data))
		windowFrames++

		if since := time.Since(windowStart); since >= time.Second {
			fmt.Fprintf(out, "%s fps=%.1f size=%d\n", time.Now().Format(time.TimeOnly),
				float64(windowFrames)/since.Seconds(), len(part.Data))
			windowStart, windowFrames = time.Now(), 0
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `%s connects to a framecast MJPEG stream and validates it.

Usage:
    %s [-url URL] [-token JWT] [-duration 10s] [-timeout SECONDS]

Example:
    %s -url http://camera.local:8080/stream -duration 30s
`, os.Args[0], os.Args[0], os.Args[0])
}
