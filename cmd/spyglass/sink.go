package main

import (
	"bytes"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"spyglass/internal/types"
)

// frameSink is the display collaborator: it persists the freshest frame to
// disk and remembers its natural pixel size so click translation has a
// scale reference.
type frameSink struct {
	dir string

	mu       sync.Mutex
	status   types.Status
	naturalW int
	naturalH int
	frames   int
}

func newFrameSink(dir string) (*frameSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &frameSink{dir: dir}, nil
}

func (fs *frameSink) HandleFrame(f *types.Frame) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		log.Warningf("frame not decodable, keeping bytes anyway: %v", err)
	}

	path := filepath.Join(fs.dir, "latest.png")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, f.Data, 0o644); err != nil {
		log.Errorf("write frame: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Errorf("write frame: %v", err)
		return
	}

	fs.mu.Lock()
	fs.frames++
	if err == nil {
		fs.naturalW, fs.naturalH = cfg.Width, cfg.Height
	}
	fs.mu.Unlock()
}

func (fs *frameSink) HandleStatus(st types.Status) {
	fs.mu.Lock()
	changed := fs.status != st
	fs.status = st
	fs.mu.Unlock()
	if changed {
		log.Debugf("capture status: %s", st)
	}
}

func (fs *frameSink) Status() types.Status {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.status
}

// NaturalSize returns the pixel dimensions of the last decoded frame, or
// ok=false if no frame has been decoded yet.
func (fs *frameSink) NaturalSize() (w, h int, ok bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.naturalW, fs.naturalH, fs.naturalW > 0 && fs.naturalH > 0
}

func (fs *frameSink) FrameCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.frames
}
