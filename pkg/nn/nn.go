package nn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Package nn is the detector interface layer.
// The pipeline only ever talks to an ObjectDetector. Concrete detectors are
// constructed by the nnload package.

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.6
const DefaultHierThreshold = 0.5

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one.
	HierThreshold        float32 // Hierarchical (tree) threshold, for models that use a class hierarchy. Ignored by flat models.
	GPUID                int     // Compute device. Backends that only run on the CPU ignore this.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
		HierThreshold:        DefaultHierThreshold,
	}
}

// ImageCrop is a crop of an image.
// To create an ImageCrop, start with WholeImage(), and then use Crop() to get a sub-crop.
type ImageCrop struct {
	NChan       int    // Number of channels (eg 3 for RGB)
	Pixels      []byte // The whole image
	Stride      int    // Bytes per row of Pixels
	ImageWidth  int    // The width of the original image, held in Pixels
	ImageHeight int    // The height of the original image, held in Pixels
	CropX       int    // Origin of crop X
	CropY       int    // Origin of crop Y
	CropWidth   int    // The width of this crop
	CropHeight  int    // The height of this crop
}

// Return the byte offset of the top-left pixel of the crop
func (c ImageCrop) Offset() int {
	return c.CropY*c.Stride + c.CropX*c.NChan
}

// Return a crop of the crop (new crop is relative to existing).
// If any parameter is out of bounds, we panic
func (c ImageCrop) Crop(x1, y1, x2, y2 int) ImageCrop {
	nc := c
	nc.CropX = c.CropX + x1
	nc.CropY = c.CropY + y1
	nc.CropWidth = x2 - x1
	nc.CropHeight = y2 - y1
	if nc.CropX < 0 || nc.CropY < 0 || nc.CropWidth < 0 || nc.CropHeight < 0 || nc.CropX+nc.CropWidth > c.ImageWidth || nc.CropY+nc.CropHeight > c.ImageHeight {
		panic("Crop out of bounds")
	}
	return nc
}

// Return a 'crop' of the entire image
func WholeImage(nchan int, pixels []byte, width, height, stride int) ImageCrop {
	return ImageCrop{
		NChan:       nchan,
		Pixels:      pixels,
		Stride:      stride,
		ImageWidth:  width,
		ImageHeight: height,
		CropX:       0,
		CropY:       0,
		CropWidth:   width,
		CropHeight:  height,
	}
}

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close releases the detector's internal resources. The detector must not be used afterwards.
	Close()

	// DetectObjects returns a list of objects detected in the image.
	// nchan is expected to be 3, and image is a 24-bit RGB image.
	// Boxes are relative to the crop.
	DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov3-tiny", "replay"
	Width        int      `json:"width"`        // eg 416. Zero means the model accepts any size.
	Height       int      `json:"height"`       // eg 416
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Parse model config from raw JSON (eg after decryption)
func ParseModelConfig(raw []byte) (*ModelConfig, error) {
	config := &ModelConfig{}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("Invalid model config: %w", err)
	}
	if config.Architecture == "" {
		return nil, fmt.Errorf("Invalid model config: architecture is empty")
	}
	return config, nil
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseModelConfig(b)
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
