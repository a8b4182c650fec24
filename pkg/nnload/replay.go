package nnload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/logs"
)

// The replay backend doesn't run a network. Its weights file is a JSON nn.ImageLabels,
// and it "detects" those objects in every image. This lets the rest of the pipeline be
// verified offline, against known detections.
const ReplayArchitecture = "replay"

var ErrDetectorClosed = errors.New("Detector is closed")

func init() {
	RegisterBackend(ReplayArchitecture, NewReplayDetector)
}

type ReplayDetector struct {
	config  nn.ModelConfig
	objects []nn.ObjectDetection
	closed  bool
}

func NewReplayDetector(log logs.Log, config *nn.ModelConfig, weightsFile string, params *nn.DetectionParams) (nn.ObjectDetector, error) {
	raw, err := os.ReadFile(weightsFile)
	if err != nil {
		return nil, err
	}
	labels := nn.ImageLabels{}
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, fmt.Errorf("Invalid replay labels '%v': %w", weightsFile, err)
	}
	return &ReplayDetector{
		config:  *config,
		objects: labels.Objects,
	}, nil
}

func (d *ReplayDetector) Close() {
	d.closed = true
	d.objects = nil
}

func (d *ReplayDetector) Closed() bool {
	return d.closed
}

// Returns the canned objects that are above the probability threshold, in crop coordinates
func (d *ReplayDetector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if d.closed {
		return nil, ErrDetectorClosed
	}
	crop := nn.Rect{X: img.CropX, Y: img.CropY, Width: img.CropWidth, Height: img.CropHeight}
	result := []nn.ObjectDetection{}
	for _, obj := range d.objects {
		if obj.Confidence < params.ProbabilityThreshold {
			continue
		}
		box := obj.Box.Intersection(crop)
		if box.IsEmpty() {
			continue
		}
		box.Offset(-img.CropX, -img.CropY)
		obj.Box = box
		result = append(result, obj)
	}
	return result, nil
}

func (d *ReplayDetector) Config() *nn.ModelConfig {
	return &d.config
}
