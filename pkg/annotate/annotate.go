package annotate

// Package annotate decides which detections raise an alert, and draws them onto a copy of the image.

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/evsdk/pkg/algoconf"
	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/evsdk/pkg/roi"
	"github.com/fogleman/gg"
)

// Fixed drawing parameters
const (
	ROILineWidth  = 2
	BoxLineWidth  = 4
	LabelFontSize = 30
	labelPadding  = 4
)

// Result of evaluating one image
type Result struct {
	Alert   bool                // True if Objects is not empty
	Objects []nn.DetectedObject // Detections that satisfied the alert rule, in detector order
}

// Evaluate applies the alert rule to the detections, and returns an annotated copy of img.
// img must have 3 channels (RGB or BGR). The output has the same layout as img, and img is never modified.
// When there is nothing to draw, the output is a plain copy.
func Evaluate(img *cimg.Image, detections []nn.DetectedObject, polygons []roi.Polygon, cfg *algoconf.Config) (*cimg.Image, Result) {
	if img.NChan() != 3 {
		panic(fmt.Sprintf("annotate: expected a 3 channel image, not %v", img.NChan()))
	}
	res := Result{
		Objects: SelectAlerts(detections, polygons, cfg),
	}
	res.Alert = len(res.Objects) != 0

	drawROI := cfg.DrawROIArea && len(polygons) != 0
	drawBoxes := cfg.DrawResult && res.Alert
	if !drawROI && !drawBoxes {
		return copyImage(img), res
	}

	canvas := toRGBA(img)
	dc := gg.NewContextForRGBA(canvas)
	if drawROI {
		for _, poly := range polygons {
			drawPolygon(dc, poly, cfg.ROIColor, ROILineWidth)
		}
	}
	if drawBoxes {
		dc.SetFontFace(labelFace())
		for _, obj := range res.Objects {
			drawRectAndText(dc, obj.Box, labelText(obj, cfg.DrawConfidence), cfg.ColorFor(obj.Label), cfg.TextColor, cfg.TextBgColor)
		}
	}
	return fromRGBA(canvas, img.Format), res
}

// SelectAlerts returns the detections that raise an alert: their class must be one of the
// configured alert classes, and if the config restricts alerts to the ROI (and an ROI was given),
// the center of the box must be inside one of the polygons.
func SelectAlerts(detections []nn.DetectedObject, polygons []roi.Polygon, cfg *algoconf.Config) []nn.DetectedObject {
	var zone *zoneIndex
	if cfg.AlertInROIOnly && len(polygons) != 0 {
		zone = newZoneIndex(polygons)
	}
	matched := []nn.DetectedObject{}
	for _, obj := range detections {
		if !cfg.IsAlertClass(obj.Label) {
			continue
		}
		if zone != nil && !zone.Contains(obj.Box.Center()) {
			continue
		}
		matched = append(matched, obj)
	}
	return matched
}

func labelText(obj nn.DetectedObject, withConfidence bool) string {
	if withConfidence {
		return fmt.Sprintf("%v: %.2f%%", obj.Label, obj.Confidence*100)
	}
	return obj.Label
}

// Channels saturate at 0 and 255
func rgb(c algoconf.RGB) color.Color {
	ch := func(v int) uint8 {
		return uint8(max(0, min(v, 255)))
	}
	return color.RGBA{R: ch(c[0]), G: ch(c[1]), B: ch(c[2]), A: 255}
}

func drawPolygon(dc *gg.Context, poly roi.Polygon, c algoconf.RGB, width float64) {
	if len(poly) < 2 {
		return
	}
	dc.SetColor(rgb(c))
	dc.SetLineWidth(width)
	dc.MoveTo(float64(poly[0].X), float64(poly[0].Y))
	for _, p := range poly[1:] {
		dc.LineTo(float64(p.X), float64(p.Y))
	}
	dc.ClosePath()
	dc.Stroke()
}

// Draw a box outline, with a text label on a filled background above it.
// If there's no room above the box, the label goes just inside the top of the box.
func drawRectAndText(dc *gg.Context, box nn.Rect, text string, boxColor, fg, bg algoconf.RGB) {
	dc.SetColor(rgb(boxColor))
	dc.SetLineWidth(BoxLineWidth)
	dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
	dc.Stroke()

	if text == "" {
		return
	}
	tw, th := dc.MeasureString(text)
	bgW := tw + 2*labelPadding
	bgH := th + 2*labelPadding
	bgX := float64(box.X) - BoxLineWidth/2
	bgY := float64(box.Y) - BoxLineWidth/2 - bgH
	if bgY < 0 {
		bgY = float64(box.Y) + BoxLineWidth/2
	}
	dc.SetColor(rgb(bg))
	dc.DrawRectangle(bgX, bgY, bgW, bgH)
	dc.Fill()

	dc.SetColor(rgb(fg))
	dc.DrawStringAnchored(text, bgX+labelPadding, bgY+labelPadding, 0, 1)
}

func copyImage(img *cimg.Image) *cimg.Image {
	out := cimg.NewImage(img.Width, img.Height, img.Format)
	rowBytes := img.Width * img.NChan()
	for y := 0; y < img.Height; y++ {
		copy(out.Pixels[y*out.Stride:y*out.Stride+rowBytes], img.Pixels[y*img.Stride:y*img.Stride+rowBytes])
	}
	return out
}

func toRGBA(img *cimg.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	r, b := 0, 2
	if img.Format == cimg.PixelFormatBGR {
		r, b = 2, 0
	}
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < img.Width; x++ {
			dst[x*4+0] = src[x*3+r]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+b]
			dst[x*4+3] = 255
		}
	}
	return out
}

func fromRGBA(canvas *image.RGBA, format cimg.PixelFormat) *cimg.Image {
	width := canvas.Rect.Dx()
	height := canvas.Rect.Dy()
	out := cimg.NewImage(width, height, format)
	r, b := 0, 2
	if format == cimg.PixelFormatBGR {
		r, b = 2, 0
	}
	for y := 0; y < height; y++ {
		src := canvas.Pix[y*canvas.Stride:]
		dst := out.Pixels[y*out.Stride:]
		for x := 0; x < width; x++ {
			dst[x*3+r] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+b] = src[x*4+2]
		}
	}
	return out
}
