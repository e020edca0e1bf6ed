package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Tutortoise/facial-attribute-service/models"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrNoFrames = errors.New("no image files found")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
}

// FrameFunc receives each frame. It must return quickly.
type FrameFunc func(*models.Frame)

// Directory replays the images of a directory as a camera stream, in name
// order, looping forever.
type Directory struct {
	files    []string
	interval time.Duration
	log      logrus.FieldLogger
	next     int
}

func NewDirectory(dir string, interval time.Duration, logger logrus.FieldLogger) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(files)

	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Directory{
		files:    files,
		interval: interval,
		log:      logger.WithField("component", "source"),
	}, nil
}

func (d *Directory) Len() int {
	return len(d.files)
}

// Run delivers one frame per interval until ctx is done.
func (d *Directory) Run(ctx context.Context, fn FrameFunc) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.WithFields(logrus.Fields{
		"files":    d.Len(),
		"interval": d.interval,
	}).Info("frame replay started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info("frame replay stopped")
			return
		case <-ticker.C:
			frame, err := d.Next()
			if err != nil {
				d.log.WithError(err).Warn("skipping unreadable frame")
				continue
			}
			fn(frame)
		}
	}
}

// Next decodes the next file in the loop.
func (d *Directory) Next() (*models.Frame, error) {
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	frame := models.NewFrame(img, 0)
	frame.TraceID = uuid.NewString()
	return frame, nil
}
