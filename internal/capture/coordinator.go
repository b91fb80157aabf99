// Package capture serializes access to the screenshot and recording
// primitives. Both are singleton resources: at most one screenshot may be
// outstanding and at most one recording may be running.
package capture

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // screenshot primitives hand back JPEG
	"image/png"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// Maximum bounding box for stored screenshots.
const (
	MaxShotWidth  = 1280
	MaxShotHeight = 720
)

// Grabber is the platform screenshot primitive. It returns encoded image
// bytes for the visible area of a window.
type Grabber interface {
	CaptureVisibleArea(ctx context.Context, windowID int) ([]byte, error)
}

// Coordinator serializes screenshot capture and downsizes the result.
// Capture failures are logged and degrade to nil; callers must treat a nil
// screenshot as acceptable.
type Coordinator struct {
	mu      sync.Mutex
	grabber Grabber
	logger  logrus.FieldLogger
}

func NewCoordinator(grabber Grabber, logger logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		grabber: grabber,
		logger:  logger.WithField("component", "capture"),
	}
}

// Capture takes a screenshot of windowID, scaled to fit MaxShotWidth ×
// MaxShotHeight. Concurrent callers queue: the underlying primitive never
// sees interleaved requests. Returns nil on any failure.
func (c *Coordinator) Capture(ctx context.Context, windowID int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.grabber == nil {
		return nil
	}
	raw, err := c.grabber.CaptureVisibleArea(ctx, windowID)
	if err != nil || len(raw) == 0 {
		c.logger.WithError(err).Debug("screenshot capture failed")
		return nil
	}

	scaled, err := Downscale(raw, MaxShotWidth, MaxShotHeight)
	if err != nil {
		c.logger.WithError(err).Debug("screenshot downscale failed, keeping original")
		return raw
	}
	return scaled
}

// Downscale re-encodes img to fit within maxW × maxH, preserving aspect
// ratio and never upscaling.
func Downscale(encoded []byte, maxW, maxH int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := min3(float64(maxW)/float64(w), float64(maxH)/float64(h), 1)

	var out image.Image = src
	if scale < 1 {
		dst := image.NewRGBA(image.Rect(0, 0, int(math.Round(float64(w)*scale)), int(math.Round(float64(h)*scale))))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
