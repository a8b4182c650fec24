package algoconf

// Package algoconf holds the algorithm and drawing parameters.
// A Config is loaded once when the SDK is initialized, and is read-only after that.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/cyclopcam/logs"
)

// Location of the config file in a standard deployment
const DefaultConfigFile = "/usr/local/ev_sdk/model/algo_config.json"

// RGB is a color with 3 channels, each 0..255
type RGB [3]int

// Color used for boxes of classes that have no entry in ObjectColors
var DefaultBoxColor = RGB{0, 255, 0}

type Config struct {
	GPUID          int            // Compute device handed to the detector
	NMS            float64        // Non-maximum suppression IoU threshold
	Thresh         float64        // Detection probability threshold
	HierThresh     float64        // Hierarchical threshold
	DrawROIArea    bool           // Draw ROI polygons onto the output image
	ROIColor       RGB            // Color of ROI outlines
	DrawResult     bool           // Draw boxes of alerting objects
	DrawConfidence bool           // Append the confidence to box labels
	TextColor      RGB            // Label foreground
	TextBgColor    RGB            // Label background
	ObjectColors   map[string]RGB // Box color per class
	AlertClasses   []string       // Objects of these classes raise an alert
	ObjectsKey     string         // Name of the object list in the result JSON
	AlertInROIOnly bool           // If true, and an ROI is supplied, only objects whose center is inside the ROI raise an alert
}

// New returns the default configuration
func New() *Config {
	return &Config{
		GPUID:          0,
		NMS:            0.6,
		Thresh:         0.5,
		HierThresh:     0.5,
		DrawROIArea:    false,
		ROIColor:       RGB{120, 120, 120},
		DrawResult:     true,
		DrawConfidence: false,
		TextColor:      RGB{0, 0, 0},
		TextBgColor:    RGB{255, 255, 255},
		ObjectColors:   map[string]RGB{"dog": {0, 255, 0}},
		AlertClasses:   []string{"dog"},
		ObjectsKey:     "dogs",
	}
}

// LoadFile returns the defaults, overridden by whatever is valid inside filename.
// If the file can't be read or parsed, the defaults are returned along with the error.
func LoadFile(log logs.Log, filename string) (*Config, error) {
	c := New()
	err := c.Load(log, filename)
	return c, err
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	n := *c
	n.ObjectColors = make(map[string]RGB, len(c.ObjectColors))
	for k, v := range c.ObjectColors {
		n.ObjectColors[k] = v
	}
	n.AlertClasses = slices.Clone(c.AlertClasses)
	return &n
}

// IsAlertClass returns true if objects of this class raise an alert
func (c *Config) IsAlertClass(label string) bool {
	return slices.Contains(c.AlertClasses, label)
}

// ColorFor returns the box color for the class
func (c *Config) ColorFor(label string) RGB {
	if col, ok := c.ObjectColors[label]; ok {
		return col
	}
	return DefaultBoxColor
}

// Load reads a JSON config file, and applies every recognized key whose value has the expected type.
// Keys with the wrong type are logged and ignored. If the file is unreadable, or is not a JSON object,
// an error is returned and the config is untouched.
func (c *Config) Load(log logs.Log, filename string) error {
	log.Infof("Parsing configuration file: %v", filename)
	raw, err := os.ReadFile(filename)
	if err != nil {
		log.Errorf("Failed reading '%v': %v", filename, err)
		return fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := c.Parse(log, raw); err != nil {
		log.Errorf("Failed parsing '%v': %v", filename, err)
		return fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return nil
}

// Parse applies the keys of a JSON document. See Load.
func (c *Config) Parse(log logs.Log, raw []byte) error {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if c.ObjectColors == nil {
		c.ObjectColors = map[string]RGB{}
	}

	readNumber(log, doc, "gpu_id", func(v float64) { c.GPUID = int(v) })
	readBool(log, doc, "draw_roi_area", &c.DrawROIArea)
	readColor(log, doc, "roi_color", &c.ROIColor)
	readBool(log, doc, "draw_result", &c.DrawResult)
	readBool(log, doc, "draw_confidence", &c.DrawConfidence)
	readNumber(log, doc, "nms", func(v float64) { c.NMS = v })
	readNumber(log, doc, "thresh", func(v float64) { c.Thresh = v })
	readNumber(log, doc, "hier_thresh", func(v float64) { c.HierThresh = v })
	readColor(log, doc, "text_color", &c.TextColor)
	readColor(log, doc, "text_bg_color", &c.TextBgColor)
	readObjectColors(log, doc, c.ObjectColors)
	readBool(log, doc, "alert_in_roi_only", &c.AlertInROIOnly)
	if v, ok := doc["alert_classes"]; ok {
		var classes []string
		if kindOf(v) == kindArray && json.Unmarshal(v, &classes) == nil && len(classes) != 0 {
			c.AlertClasses = classes
			log.Infof("Found alert_classes=%v", classes)
		} else {
			log.Warnf("Ignoring alert_classes: expected a non-empty array of strings, got %v", string(v))
		}
	}
	if v, ok := doc["objects_key"]; ok {
		var key string
		if kindOf(v) == kindString && json.Unmarshal(v, &key) == nil && key != "" {
			c.ObjectsKey = key
			log.Infof("Found objects_key=%v", key)
		} else {
			log.Warnf("Ignoring objects_key: expected a non-empty string, got %v", string(v))
		}
	}

	return nil
}

type jsonKind int

const (
	kindOther jsonKind = iota
	kindNumber
	kindBool
	kindString
	kindArray
	kindObject
)

func kindOf(v json.RawMessage) jsonKind {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return kindOther
	}
	switch v[0] {
	case 't', 'f':
		return kindBool
	case '"':
		return kindString
	case '[':
		return kindArray
	case '{':
		return kindObject
	case 'n':
		return kindOther
	}
	return kindNumber
}

func readNumber(log logs.Log, doc map[string]json.RawMessage, key string, apply func(float64)) {
	v, ok := doc[key]
	if !ok {
		return
	}
	var f float64
	if kindOf(v) != kindNumber || json.Unmarshal(v, &f) != nil {
		log.Warnf("Ignoring %v: expected a number, got %v", key, string(v))
		return
	}
	apply(f)
	log.Infof("Found %v=%v", key, f)
}

func readBool(log logs.Log, doc map[string]json.RawMessage, key string, dst *bool) {
	v, ok := doc[key]
	if !ok {
		return
	}
	var b bool
	if kindOf(v) != kindBool || json.Unmarshal(v, &b) != nil {
		log.Warnf("Ignoring %v: expected a boolean, got %v", key, string(v))
		return
	}
	*dst = b
	log.Infof("Found %v=%v", key, b)
}

func readColor(log logs.Log, doc map[string]json.RawMessage, key string, dst *RGB) {
	v, ok := doc[key]
	if !ok {
		return
	}
	col, err := parseColor(v)
	if err != nil {
		log.Warnf("Ignoring %v: %v", key, err)
		return
	}
	*dst = col
	log.Infof("Found %v=%v", key, col)
}

// object_colors is an array of single-key objects, eg [{"dog": [0,255,0]}, {"cat": [255,0,0]}]
func readObjectColors(log logs.Log, doc map[string]json.RawMessage, dst map[string]RGB) {
	v, ok := doc["object_colors"]
	if !ok {
		return
	}
	var entries []json.RawMessage
	if kindOf(v) != kindArray || json.Unmarshal(v, &entries) != nil {
		log.Warnf("Ignoring object_colors: expected an array, got %v", string(v))
		return
	}
	for _, entry := range entries {
		if kindOf(entry) != kindObject {
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(entry, &obj) != nil {
			continue
		}
		for class, rawColor := range obj {
			col, err := parseColor(rawColor)
			if err != nil {
				log.Warnf("Ignoring object color for %v: %v", class, err)
				continue
			}
			dst[class] = col
			log.Infof("Found %v rect color=%v", class, col)
		}
	}
}

func parseColor(v json.RawMessage) (RGB, error) {
	var channels []json.RawMessage
	if kindOf(v) != kindArray || json.Unmarshal(v, &channels) != nil {
		return RGB{}, fmt.Errorf("expected an array of 3 numbers, got %v", string(v))
	}
	if len(channels) != 3 {
		return RGB{}, fmt.Errorf("expected 3 channels, got %v", len(channels))
	}
	col := RGB{}
	for i, ch := range channels {
		var f float64
		if kindOf(ch) != kindNumber || json.Unmarshal(ch, &f) != nil {
			return RGB{}, fmt.Errorf("channel %v is not a number: %v", i, string(ch))
		}
		if f < 0 || f > 255 {
			return RGB{}, fmt.Errorf("channel %v is outside 0..255: %v", i, string(ch))
		}
		col[i] = int(f)
	}
	return col, nil
}
