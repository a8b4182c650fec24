package nn

import (
	"github.com/bmharper/tiledinference"
)

// Detect runs the model over the whole image, and returns the detected objects
// with their class names resolved. Boxes are exactly what the detector produced,
// so they may extend outside the image, or be empty.
func Detect(model ObjectDetector, img ImageCrop, params *DetectionParams) ([]DetectedObject, error) {
	raw, err := TiledInference(model, img, params)
	if err != nil {
		return nil, err
	}
	classes := model.Config().Classes
	if len(classes) == 0 {
		classes = COCOClasses
	}
	objects := make([]DetectedObject, 0, len(raw))
	for _, r := range raw {
		objects = append(objects, DetectedObject{
			Label:      ClassName(classes, r.Class),
			Confidence: r.Confidence,
			Box:        r.Box,
		})
	}
	return objects, nil
}

// Run tiled inference on the image.
// We look at the width and height of the model, and if the image is larger, then we split the image
// up into tiles, and run each of those tiles through the model. Then, we merge the tiles back
// into a single dataset.
// If the model is larger than the image (or accepts any size), then we just run the model directly,
// and its boxes are returned untouched. Only boxes merged from multiple tiles are rebuilt (and clipped).
// Tiles are processed one after the other, on the calling goroutine.
func TiledInference(model ObjectDetector, img ImageCrop, params *DetectionParams) ([]ObjectDetection, error) {
	config := model.Config()

	finalClip := Rect{
		X:      0,
		Y:      0,
		Width:  img.CropWidth,
		Height: img.CropHeight,
	}

	if config.Width <= 0 || config.Height <= 0 || (img.CropWidth <= config.Width && img.CropHeight <= config.Height) {
		return model.DetectObjects(img, params)
	}

	// Somewhat arbitrary. Should probably be a multiple of the model size.
	minPadding := 32

	tiling := tiledinference.MakeTiling(img.CropWidth, img.CropHeight, config.Width, config.Height, minPadding)

	allObjects := []ObjectDetection{}
	allBoxes := []tiledinference.Box{}
	for ty := 0; ty < tiling.NumY; ty++ {
		for tx := 0; tx < tiling.NumX; tx++ {
			objects, boxes, err := detectTile(model, params, tiling, tx, ty, img)
			if err != nil {
				return nil, err
			}
			allObjects = append(allObjects, objects...)
			allBoxes = append(allBoxes, boxes...)
		}
	}

	merged := []ObjectDetection{}

	if tiling.IsSingle() {
		return allObjects, nil
	}

	groups, mergedBoxes := tiledinference.MergeBoxes(tiling, allBoxes, nil)
	for igroup, group := range groups {
		// Start with the first object in the group
		newObj := allObjects[group[0]]
		r := mergedBoxes[igroup]

		// The merged box can be larger than the first object in the group
		newObj.Box = Rect{X: int(r.Rect.X1), Y: int(r.Rect.Y1), Width: int(r.Rect.Width()), Height: int(r.Rect.Height())}
		newObj.Box = newObj.Box.Intersection(finalClip)

		// Use max(confidence) from all objects in the group
		for _, el := range group[1:] {
			newObj.Confidence = max(newObj.Confidence, allObjects[el].Confidence)
		}

		merged = append(merged, newObj)
	}

	return merged, nil
}

// Returns two parallel arrays
func detectTile(model ObjectDetector, params *DetectionParams, tiling tiledinference.Tiling, tx, ty int, img ImageCrop) ([]ObjectDetection, []tiledinference.Box, error) {
	tileRect := tiling.TileRect(tx, ty)
	crop := img.Crop(int(tileRect.X1), int(tileRect.Y1), int(tileRect.X2), int(tileRect.Y2))
	objects, err := model.DetectObjects(crop, params)
	if err != nil {
		return nil, nil, err
	}
	boxes := make([]tiledinference.Box, 0, len(objects))
	for i, obj := range objects {
		box := tiledinference.Box{
			Rect: tiledinference.Rect{
				X1: int32(obj.Box.X),
				Y1: int32(obj.Box.Y),
				X2: int32(obj.Box.X2()),
				Y2: int32(obj.Box.Y2()),
			},
			Class: int32(obj.Class),
			Tile:  tiling.MakeTileIndex(tx, ty),
		}
		box.Rect.Offset(int32(tileRect.X1), int32(tileRect.Y1))
		objects[i].Box.Offset(int(tileRect.X1), int(tileRect.Y1))
		boxes = append(boxes, box)
	}
	return objects, boxes, nil
}
