/*
 *	Copyright 2024 The MaskTrain Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tracking is the experiment sink of a run: scalar series are
// appended to a JSON-lines file and media (grids, heatmap overlays) are
// stored as PNGs under the run directory, so any plotting frontend can
// consume them later.
//
// A Run must be opened before logging and closed at the end; logging to a
// closed run is a no-op and is reported once.
package tracking

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ScalarsFileName is the JSON-lines file holding every scalar point of the
// run, in log order.
const ScalarsFileName = "scalars.jsonl"

// Point is one logged scalar, one JSON object per line.
type Point struct {
	Series string  `json:"series"`
	Step   int     `json:"step"`
	Value  float64 `json:"value"`
	What   string  `json:"what,omitempty"`
}

// Run is an open experiment sink rooted at a run directory.
type Run struct {
	// ID is a fresh UUID identifying the run.
	ID  string
	Dir string

	mu          sync.Mutex
	scalars     *os.File
	enc         *json.Encoder
	closed      bool
	warnedAfter bool
}

// Open creates (or reuses) the run directory and opens the scalar sink. The
// run's UUID and start time are written to run.json.
func Open(dir string) (*Run, error) {
	return OpenWithLabels(dir, nil)
}

// OpenWithLabels is Open with extra metadata recorded in run.json, e.g. the
// experiment group and job type identifying a fold's run.
func OpenWithLabels(dir string, labels map[string]string) (*Run, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create run directory %q", dir)
	}
	scalars, err := os.OpenFile(path.Join(dir, ScalarsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open scalar sink in %q", dir)
	}
	r := &Run{
		ID:      uuid.NewString(),
		Dir:     dir,
		scalars: scalars,
	}
	r.enc = json.NewEncoder(scalars)

	meta := map[string]string{
		"id":      r.ID,
		"started": time.Now().Format(time.RFC3339),
	}
	for key, value := range labels {
		meta[key] = value
	}
	metaBytes, _ := json.MarshalIndent(meta, "", "  ")
	if err := os.WriteFile(path.Join(dir, "run.json"), metaBytes, 0644); err != nil {
		_ = scalars.Close()
		return nil, errors.Wrapf(err, "failed to write run metadata in %q", dir)
	}
	klog.Infof("Tracking run %s -> %s", r.ID, dir)
	return r, nil
}

// LogScalar appends one point to the run's scalar series. Safe for
// concurrent use. Errors are logged, not returned: a full disk should not
// kill a training run.
func (r *Run) LogScalar(series string, step int, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		if !r.warnedAfter {
			r.warnedAfter = true
			klog.Warningf("Tracking run %s: scalar logged after Close, dropping", r.ID)
		}
		return
	}
	if err := r.enc.Encode(Point{Series: series, Step: step, Value: value}); err != nil {
		klog.Warningf("Tracking run %s: failed to log scalar %q: %v", r.ID, series, err)
	}
}

// LogImage stores img as media/<collection>/<name>.png under the run
// directory.
func (r *Run) LogImage(collection, name string, img image.Image) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return errors.Errorf("tracking run %s is closed", r.ID)
	}
	mediaDir := path.Join(r.Dir, "media", collection)
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create media directory %q", mediaDir)
	}
	filePath := path.Join(mediaDir, fmt.Sprintf("%s.png", name))
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create media file %q", filePath)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to encode media file %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close media file %q", filePath)
}

// Close flushes and closes the sink. Further logging is dropped. Close is
// idempotent.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Wrapf(r.scalars.Close(), "failed to close scalar sink of run %s", r.ID)
}
