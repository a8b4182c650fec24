package ji

import (
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/evsdk/pkg/algoconf"
	"github.com/cyclopcam/evsdk/pkg/annotate"
	"github.com/cyclopcam/evsdk/pkg/event"
	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/evsdk/pkg/perfstats"
	"github.com/cyclopcam/evsdk/pkg/roi"
	"github.com/cyclopcam/logs"
)

// Predictor owns a detector, and the buffers that hold its most recent output.
// Calls on one Predictor are serialized. Separate Predictors are independent.
type Predictor struct {
	log    logs.Log
	config *algoconf.Config
	params *nn.DetectionParams

	lock   sync.Mutex
	model  nn.ObjectDetector // nil once destroyed
	result *event.ResultBuffer
	output *cimg.Image
	stats  perfstats.FrameStages
}

func newPredictor(log logs.Log, config *algoconf.Config, params *nn.DetectionParams, model nn.ObjectDetector, mode event.CapacityMode) *Predictor {
	return &Predictor{
		log:    log,
		config: config,
		params: params,
		model:  model,
		result: event.NewResultBuffer(mode),
	}
}

// Stats returns the average time spent in each stage of processing
func (p *Predictor) Stats() perfstats.FrameStages {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.stats
}

// ResultBuffer exposes the buffer behind Event.JSON
func (p *Predictor) ResultBuffer() *event.ResultBuffer {
	return p.result
}

func (p *Predictor) releaseResult() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.result.Reset()
}

func (p *Predictor) close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.model == nil {
		return
	}
	p.model.Close()
	p.model = nil
	p.result.Reset()
	p.output = nil
}

func (p *Predictor) detect(img *cimg.Image) ([]nn.DetectedObject, error) {
	crop := nn.WholeImage(img.NChan(), img.Pixels, img.Width, img.Height, img.Stride)
	return nn.Detect(p.model, crop, p.params)
}

// process runs detection, alerting, annotation and serialization on a decoded image.
// The caller must hold p.lock.
// On success, p.output holds the annotated image, and the returned event borrows p.result.
func (p *Predictor) process(img *cimg.Image, args string) (Event, Status) {
	if img.Width <= 0 || img.Height <= 0 {
		p.log.Errorf("Empty input image")
		return failedEvent(), StatusFailed
	}
	if img.NChan() != 3 {
		img = img.ToRGB()
	}

	polygons := roi.ParseArgs(p.log, args, img.Width, img.Height)

	start := time.Now()
	objects, err := p.detect(img)
	if err != nil {
		p.log.Errorf("Detection failed: %v", err)
		return failedEvent(), StatusFailed
	}
	start = p.stats.Detect.Since(start)

	out, res := annotate.Evaluate(img, objects, polygons, p.config)
	start = p.stats.Annotate.Since(start)

	payload := event.Marshal(res.Alert, p.config.ObjectsKey, res.Objects)
	p.result.Write(payload)
	p.stats.Serialize.Since(start)

	p.output = out
	ev := Event{Code: CodeNormal, JSON: p.result.Bytes()}
	if res.Alert {
		ev.Code = CodeAlarm
	}
	return ev, StatusSucceed
}
