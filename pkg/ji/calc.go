package ji

import (
	"fmt"
	"time"

	"github.com/bmharper/cimg/v2"
)

// JPEG quality of output files
const OutputQuality = 95

// CalcFrame processes an in-memory image. The input image is not modified.
// The returned image is borrowed from the Predictor, with the same lifetime as Event.JSON.
func (s *SDK) CalcFrame(p *Predictor, in *cimg.Image, args string) (*cimg.Image, Event, Status) {
	if p == nil || in == nil {
		return nil, failedEvent(), StatusInvalidParams
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	ev, status := s.calc(p, args, "", in, nil)
	if status != StatusSucceed {
		return nil, ev, status
	}
	return p.output, ev, status
}

// CalcBuffer processes an encoded image (JPEG or PNG).
// If outFile is not empty, the annotated image is written there as a JPEG.
func (s *SDK) CalcBuffer(p *Predictor, buf []byte, args, outFile string) (Event, Status) {
	if p == nil || len(buf) == 0 {
		return failedEvent(), StatusInvalidParams
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return s.calc(p, args, outFile, nil, func() (*cimg.Image, error) { return cimg.Decompress(buf) })
}

// CalcFile processes an image file.
// If outFile is not empty, the annotated image is written there as a JPEG.
func (s *SDK) CalcFile(p *Predictor, inFile, args, outFile string) (Event, Status) {
	if p == nil || inFile == "" {
		return failedEvent(), StatusInvalidParams
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return s.calc(p, args, outFile, nil, func() (*cimg.Image, error) { return cimg.ReadFile(inFile) })
}

// CalcVideoFile is not implemented
func (s *SDK) CalcVideoFile(p *Predictor, inFile, args, outFile string) Status {
	s.Log.Warnf("CalcVideoFile is not supported")
	return StatusUnused
}

// calc runs the pipeline and records metrics. p.lock must be held.
// The image is either an in-memory frame, or is produced by decode.
func (s *SDK) calc(p *Predictor, args, outFile string, frame *cimg.Image, decode func() (*cimg.Image, error)) (ev Event, status Status) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.Log.Errorf("Panic while processing image: %v", r)
			ev, status = failedEvent(), StatusFailed
		}
		s.metrics.record(status, ev, start)
	}()

	if p.model == nil {
		return failedEvent(), StatusInvalidParams
	}
	// The license is checked before any image work is done
	if st := s.checkLicense(); st != StatusSucceed {
		return failedEvent(), st
	}

	img := frame
	if img == nil {
		decodeStart := time.Now()
		var err error
		img, err = decode()
		if err != nil {
			s.Log.Errorf("Failed to decode image: %v", err)
			return failedEvent(), StatusFailed
		}
		p.stats.Decode.Since(decodeStart)
	}

	ev, status = p.process(img, args)
	if status != StatusSucceed || outFile == "" {
		return ev, status
	}
	if err := writeOutput(p.output, outFile); err != nil {
		s.Log.Errorf("Failed to write %v: %v", outFile, err)
		return failedEvent(), StatusFailed
	}
	return ev, status
}

func writeOutput(img *cimg.Image, filename string) error {
	if img == nil {
		return fmt.Errorf("No output image")
	}
	return img.WriteJPEG(filename, cimg.MakeCompressParams(cimg.Sampling420, OutputQuality, 0), 0644)
}
