package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agentstudio.dev/deskrec/capture"
)

// Manifest describes one saved video. Times are unix seconds; StopTime is 0
// when the epoch was still running at save time.
type Manifest struct {
	StartTime  float64 `json:"start_time"`
	StopTime   float64 `json:"stop_time"`
	FPS        int     `json:"fps"`
	FrameCount int     `json:"frame_count"`
	VideoPath  string  `json:"video_path"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// Save writes buffered frames with start <= id <= end to path.
func (s *Session) Save(ctx context.Context, path string, start, end int64) (*Manifest, error) {
	return s.save(ctx, path, s.buf.FramesBetween(start, end))
}

// SaveFrom writes every buffered frame with id >= start to path.
func (s *Session) SaveFrom(ctx context.Context, path string, start int64) (*Manifest, error) {
	return s.save(ctx, path, s.buf.Frames(start))
}

func (s *Session) save(ctx context.Context, path string, frames []*capture.Frame) (*Manifest, error) {
	began := time.Now()
	m, err := s.encode(ctx, path, frames)
	if err != nil {
		if s.obs != nil {
			s.obs.SaveFailed(err)
		}
		s.log.Error("save recording failed", "path", path, "err", err)
		return nil, err
	}
	elapsed := time.Since(began)
	if s.obs != nil {
		s.obs.SaveCompleted(m.FrameCount, elapsed)
	}
	s.log.Info("recording saved",
		"path", path,
		"frames", m.FrameCount,
		"fps", m.FPS,
		"epoch", s.EpochID(),
		"elapsed", elapsed,
	)
	return m, nil
}

func (s *Session) encode(ctx context.Context, path string, frames []*capture.Frame) (*Manifest, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	epoch := s.Epoch()
	w, err := s.enc.Open(ctx, path, epoch.Width, epoch.Height, epoch.FPS)
	if err != nil {
		return nil, fmt.Errorf("open encoder: %w", err)
	}

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, errors.Join(fmt.Errorf("save cancelled at frame %d: %w", f.ID, err), w.Close())
		}
		if err := w.WriteFrame(f.Pix); err != nil {
			return nil, errors.Join(fmt.Errorf("write frame %d: %w", f.ID, err), w.Close())
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}

	return &Manifest{
		StartTime:  unixSeconds(epoch.StartTime),
		StopTime:   unixSeconds(epoch.StopTime),
		FPS:        epoch.FPS,
		FrameCount: len(frames),
		VideoPath:  path,
		Width:      epoch.Width,
		Height:     epoch.Height,
	}, nil
}
