package nn

import "fmt"

// ImageLabels is a list of objects found in one image.
// The replay backend reads these from disk instead of running a network.
type ImageLabels struct {
	Frame   int               `json:"frame,omitempty"`
	Objects []ObjectDetection `json:"objects"`
}

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// DetectedObject is an ObjectDetection with the class index resolved to a name.
// This is the form that the alert and result stages consume.
type DetectedObject struct {
	Label      string
	Confidence float32 // Between 0 and 1
	Box        Rect
}

// Return the name of class 'idx', or a placeholder if the model doesn't know it
func ClassName(classes []string, idx int) string {
	if idx >= 0 && idx < len(classes) {
		return classes[idx]
	}
	return fmt.Sprintf("class%v", idx)
}
