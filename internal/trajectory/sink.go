package trajectory

import (
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"

	"github.com/banshee-data/cycle.report/internal/fsutil"
)

// JPEGSink writes stills as <Dir>/<video>_frame_<index>.jpg.
type JPEGSink struct {
	FS      fsutil.FileSystem
	Dir     string
	Quality int

	ready bool
}

// FramePath returns the still path for a frame.
func FramePath(dir, videoName string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_frame_%04d.jpg", videoName, index))
}

// Save encodes img as JPEG, creating Dir on first use.
func (s *JPEGSink) Save(videoName string, index int, img image.Image) (string, error) {
	if !s.ready {
		if err := s.FS.MkdirAll(s.Dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create frames dir: %w", err)
		}
		s.ready = true
	}

	path := FramePath(s.Dir, videoName, index)
	w, err := s.FS.Create(path)
	if err != nil {
		return "", err
	}
	quality := s.Quality
	if quality == 0 {
		quality = jpeg.DefaultQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		w.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return path, nil
}
