package ji

import (
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/evsdk/pkg/event"
	"github.com/cyclopcam/evsdk/pkg/license"
	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/evsdk/pkg/nnload"
	"github.com/cyclopcam/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// Backends that misbehave, or count their invocations
var countingCalls atomic.Int64

type testDetector struct {
	config nn.ModelConfig
	mode   string
}

func (d *testDetector) Close() {}

func (d *testDetector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *testDetector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	switch d.mode {
	case "panic":
		panic("backend exploded")
	case "error":
		return nil, errors.New("backend failed")
	case "edge":
		return []nn.ObjectDetection{
			{Class: 1, Confidence: 0.75, Box: nn.Rect{X: -5, Y: 2, Width: 20, Height: 10}},
			{Class: 1, Confidence: 0.5, Box: nn.Rect{X: 8, Y: 8, Width: 0, Height: 6}},
		}, nil
	}
	countingCalls.Add(1)
	return []nn.ObjectDetection{{Class: 1, Confidence: 0.9, Box: nn.Rect{X: 1, Y: 1, Width: 4, Height: 4}}}, nil
}

func init() {
	for _, mode := range []string{"panic", "error", "counting", "edge"} {
		m := mode
		nnload.RegisterBackend("test-"+m, func(log logs.Log, config *nn.ModelConfig, weightsFile string, params *nn.DetectionParams) (nn.ObjectDetector, error) {
			return &testDetector{config: *config, mode: m}, nil
		})
	}
}

const twoDogs = `{"objects": [
	{"class": 1, "confidence": 0.875, "box": {"x": 10, "y": 20, "width": 30, "height": 40}},
	{"class": 0, "confidence": 0.9, "box": {"x": 0, "y": 0, "width": 8, "height": 8}},
	{"class": 1, "confidence": 0.75, "box": {"x": 40, "y": 0, "width": 10, "height": 10}}
]}`

const onePerson = `{"objects": [
	{"class": 0, "confidence": 0.9, "box": {"x": 0, "y": 0, "width": 8, "height": 8}}
]}`

const noObjects = `{"objects": []}`

func writeFile(t *testing.T, dir, name, body string) string {
	fn := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(fn, []byte(body), 0644))
	return fn
}

// Create an SDK that uses the given model architecture and canned labels.
// algoConfig may be empty, in which case there is no config file.
func newTestSDK(t *testing.T, architecture, labels, algoConfig string, edit func(o *Options)) *SDK {
	dir := t.TempDir()
	opts := Options{
		ConfigFile: filepath.Join(dir, "missing-algo-config.json"),
		Model: nnload.ModelFiles{
			ConfigFile:  writeFile(t, dir, "model.json", `{"architecture": "`+architecture+`", "classes": ["person", "dog"]}`),
			WeightsFile: writeFile(t, dir, "labels.json", labels),
		},
	}
	if algoConfig != "" {
		opts.ConfigFile = writeFile(t, dir, "algo_config.json", algoConfig)
	}
	if edit != nil {
		edit(&opts)
	}
	s, err := NewSDK(logs.NewTestingLog(t), opts)
	require.NoError(t, err)
	return s
}

func newTestPredictor(t *testing.T, s *SDK) *Predictor {
	p, err := s.CreatePredictor()
	require.NoError(t, err)
	t.Cleanup(func() { s.DestroyPredictor(p) })
	return p
}

func testImage(width, height int) *cimg.Image {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = 80
	}
	return img
}

func countChangedPixels(a, b *cimg.Image) int {
	n := 0
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width*3; x += 3 {
			pa := a.Pixels[y*a.Stride+x : y*a.Stride+x+3]
			pb := b.Pixels[y*b.Stride+x : y*b.Stride+x+3]
			if pa[0] != pb[0] || pa[1] != pb[1] || pa[2] != pb[2] {
				n++
			}
		}
	}
	return n
}

func TestNoAlert(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, onePerson, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)

	in := testImage(64, 64)
	out, ev, status := s.CalcFrame(p, in, "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, CodeNormal, ev.Code)
	require.Equal(t, "{\n\t\"alert_flag\": 0,\n\t\"dogs\": []\n}", string(ev.JSON))
	require.NotNil(t, out)
	require.Equal(t, 0, countChangedPixels(in, out))
	require.Equal(t, 1, testutil.CollectAndCount(s.metrics.frames))
	require.Equal(t, 1.0, testutil.ToFloat64(s.metrics.frames.WithLabelValues("succeed")))
	require.Equal(t, 0.0, testutil.ToFloat64(s.metrics.alerts))
	require.EqualValues(t, 1, p.Stats().Detect.Samples)
	// in-memory frames are not decoded
	require.EqualValues(t, 0, p.Stats().Decode.Samples)
}

func TestAlert(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, twoDogs, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)

	in := testImage(64, 64)
	out, ev, status := s.CalcFrame(p, in, "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, CodeAlarm, ev.Code)
	expect := "{\n" +
		"\t\"alert_flag\": 1,\n" +
		"\t\"dogs\": [\n" +
		"\t\t{\n" +
		"\t\t\t\"xmin\": 10,\n" +
		"\t\t\t\"ymin\": 20,\n" +
		"\t\t\t\"xmax\": 40,\n" +
		"\t\t\t\"ymax\": 60,\n" +
		"\t\t\t\"confidence\": 0.875\n" +
		"\t\t},\n" +
		"\t\t{\n" +
		"\t\t\t\"xmin\": 40,\n" +
		"\t\t\t\"ymin\": 0,\n" +
		"\t\t\t\"xmax\": 50,\n" +
		"\t\t\t\"ymax\": 10,\n" +
		"\t\t\t\"confidence\": 0.75\n" +
		"\t\t}\n" +
		"\t]\n" +
		"}"
	require.Equal(t, expect, string(ev.JSON))
	require.Greater(t, countChangedPixels(in, out), 0)
	for _, px := range in.Pixels {
		require.Equal(t, byte(80), px)
	}
	require.Equal(t, 1.0, testutil.ToFloat64(s.metrics.alerts))

	// The same input gives byte-identical output
	first := string(ev.JSON)
	_, ev, status = s.CalcFrame(p, in, "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, first, string(ev.JSON))
}

func TestBoxesReportedAsDetected(t *testing.T) {
	s := newTestSDK(t, "test-edge", noObjects, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)

	_, ev, status := s.CalcFrame(p, testImage(32, 32), "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, CodeAlarm, ev.Code)
	expect := "{\n" +
		"\t\"alert_flag\": 1,\n" +
		"\t\"dogs\": [\n" +
		"\t\t{\n" +
		"\t\t\t\"xmin\": -5,\n" +
		"\t\t\t\"ymin\": 2,\n" +
		"\t\t\t\"xmax\": 15,\n" +
		"\t\t\t\"ymax\": 12,\n" +
		"\t\t\t\"confidence\": 0.75\n" +
		"\t\t},\n" +
		"\t\t{\n" +
		"\t\t\t\"xmin\": 8,\n" +
		"\t\t\t\"ymin\": 8,\n" +
		"\t\t\t\"xmax\": 8,\n" +
		"\t\t\t\"ymax\": 14,\n" +
		"\t\t\t\"confidence\": 0.5\n" +
		"\t\t}\n" +
		"\t]\n" +
		"}"
	require.Equal(t, expect, string(ev.JSON))
}

func TestObjectsKeyAndAlertClasses(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, twoDogs, `{"alert_classes": ["person"], "objects_key": "people"}`, nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)
	_, ev, status := s.CalcFrame(p, testImage(64, 64), "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, CodeAlarm, ev.Code)
	require.Contains(t, string(ev.JSON), `"people": [`)
	require.Contains(t, string(ev.JSON), `"xmax": 8,`)
}

// Big payload, then small, then medium
func runShrinkGrow(t *testing.T, mode event.CapacityMode) (p *Predictor, big, medium int) {
	s := newTestSDK(t, nnload.ReplayArchitecture, twoDogs, `{"alert_in_roi_only": true}`, func(o *Options) {
		o.CapacityMode = mode
	})
	require.Equal(t, StatusSucceed, s.Init(nil))
	p = newTestPredictor(t, s)
	img := testImage(64, 64)

	_, ev, _ := s.CalcFrame(p, img, "")
	big = len(ev.JSON)
	_, ev, _ = s.CalcFrame(p, img, `{"roi": ["POLYGON((50 50, 60 50, 60 60, 50 60))"]}`)
	small := len(ev.JSON)
	require.Equal(t, "{\n\t\"alert_flag\": 0,\n\t\"dogs\": []\n}", string(ev.JSON))
	_, ev, _ = s.CalcFrame(p, img, `{"roi": ["POLYGON((0 16, 36 16, 36 63, 0 63))"]}`)
	medium = len(ev.JSON)
	require.Contains(t, string(ev.JSON), `"xmin": 10,`)
	require.NotContains(t, string(ev.JSON), `"xmin": 40,`)

	require.Greater(t, big, medium)
	require.Greater(t, medium, small)
	return
}

func TestResultBufferReuse(t *testing.T) {
	p, big, _ := runShrinkGrow(t, event.CapacityTracked)
	require.Equal(t, 1, p.ResultBuffer().Allocations())
	require.Equal(t, big+1, p.ResultBuffer().Cap())
}

func TestResultBufferLegacyCapacity(t *testing.T) {
	// Comparing against the content length reallocates when a medium payload follows a small one
	p, _, medium := runShrinkGrow(t, event.CapacityLegacy)
	require.Equal(t, 2, p.ResultBuffer().Allocations())
	require.Equal(t, medium+1, p.ResultBuffer().Cap())
}

func TestMalformedROISibling(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, noObjects, `{"draw_roi_area": true, "roi_color": [255, 0, 0]}`, nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)
	in := testImage(64, 64)

	out, _, status := s.CalcFrame(p, in, `{"roi": ["POLYGON((bad", 5]}`)
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, 0, countChangedPixels(in, out))

	out, _, status = s.CalcFrame(p, in, `{"roi": ["POLYGON((bad", 5, "POLYGON((0.1 0.1, 0.5 0.1, 0.5 0.5, 0.1 0.5))"]}`)
	require.Equal(t, StatusSucceed, status)
	require.Greater(t, countChangedPixels(in, out), 0)
}

func TestROINotDrawnWhenDisabled(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, noObjects, `{"draw_roi_area": false}`, nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)
	in := testImage(64, 64)
	out, _, status := s.CalcFrame(p, in, `{"roi": ["POLYGON((0.1 0.1, 0.5 0.1, 0.5 0.5, 0.1 0.5))"]}`)
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, 0, countChangedPixels(in, out))
}

func TestLicense(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lic, err := license.Sign(priv, license.Grant{Expires: now.Add(time.Hour), MaxQPS: 1, Version: 3})
	require.NoError(t, err)

	s := newTestSDK(t, "test-counting", noObjects, "", func(o *Options) {
		o.PublicKey = pub
		o.Clock = func() time.Time { return now }
	})
	_, err = s.CreatePredictor()
	require.ErrorIs(t, err, ErrNotInitialized)

	require.Equal(t, StatusInvalidParams, s.Init(nil))
	require.Equal(t, StatusInvalidParams, s.Init([]string{lic, "", "", "", "1"}))
	require.Equal(t, StatusInvalidParams, s.Init([]string{"", "", "", "", "1", "3"}))
	require.Equal(t, StatusUnauthorized, s.Init([]string{lic + "x", "", "", "", "1", "3"}))
	require.Equal(t, StatusUnauthorized, s.Init([]string{lic, "", "", "", "1", "4"}))
	require.Equal(t, StatusSucceed, s.Init([]string{lic, "", "", "", "1", "3"}))

	p := newTestPredictor(t, s)
	img := testImage(32, 32)
	before := countingCalls.Load()

	_, ev, status := s.CalcFrame(p, img, "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, CodeAlarm, ev.Code)
	require.Equal(t, before+1, countingCalls.Load())

	// The clock is frozen, so the second call in the same instant is over the limit,
	// and the detector is never reached.
	_, ev, status = s.CalcFrame(p, img, "")
	require.Equal(t, StatusOverMaxQPS, status)
	require.Equal(t, CodeFailed, ev.Code)
	require.Equal(t, before+1, countingCalls.Load())

	s.Reinit()
	require.Equal(t, 0, p.ResultBuffer().Cap())
	_, _, status = s.CalcFrame(p, img, "")
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, before+2, countingCalls.Load())

	now = now.Add(2 * time.Hour)
	_, _, status = s.CalcFrame(p, img, "")
	require.Equal(t, StatusUnauthorized, status)
	require.Equal(t, before+2, countingCalls.Load())
	_, err = s.CreatePredictor()
	require.ErrorIs(t, err, license.ErrExpired)

	require.Equal(t, 1.0, testutil.ToFloat64(s.metrics.frames.WithLabelValues("over_max_qps")))
	require.Equal(t, 1.0, testutil.ToFloat64(s.metrics.frames.WithLabelValues("unauthorized")))
}

func TestInvalidParams(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, noObjects, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)

	_, _, status := s.CalcFrame(nil, testImage(8, 8), "")
	require.Equal(t, StatusInvalidParams, status)
	_, _, status = s.CalcFrame(p, nil, "")
	require.Equal(t, StatusInvalidParams, status)
	_, status = s.CalcBuffer(p, nil, "", "")
	require.Equal(t, StatusInvalidParams, status)
	_, status = s.CalcBuffer(nil, []byte{1}, "", "")
	require.Equal(t, StatusInvalidParams, status)
	_, status = s.CalcFile(p, "", "", "")
	require.Equal(t, StatusInvalidParams, status)
	require.Equal(t, StatusUnused, s.CalcVideoFile(p, "video.mp4", "", ""))

	s.DestroyPredictor(nil)
	s.DestroyPredictor(p)
	s.DestroyPredictor(p)
	_, _, status = s.CalcFrame(p, testImage(8, 8), "")
	require.Equal(t, StatusInvalidParams, status)
}

func TestFailures(t *testing.T) {
	for _, arch := range []string{"test-panic", "test-error"} {
		s := newTestSDK(t, arch, noObjects, "", nil)
		require.Equal(t, StatusSucceed, s.Init(nil))
		p := newTestPredictor(t, s)
		out, ev, status := s.CalcFrame(p, testImage(16, 16), "")
		require.Equal(t, StatusFailed, status, arch)
		require.Equal(t, CodeFailed, ev.Code)
		require.Nil(t, out)
		require.Equal(t, 1.0, testutil.ToFloat64(s.metrics.frames.WithLabelValues("failed")))
	}

	s := newTestSDK(t, nnload.ReplayArchitecture, noObjects, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)
	ev, status := s.CalcBuffer(p, []byte("not an image"), "", "")
	require.Equal(t, StatusFailed, status)
	require.Equal(t, CodeFailed, ev.Code)
	_, status = s.CalcFile(p, filepath.Join(t.TempDir(), "missing.jpg"), "", "")
	require.Equal(t, StatusFailed, status)
	_, _, status = s.CalcFrame(p, cimg.NewImage(0, 0, cimg.PixelFormatRGB), "")
	require.Equal(t, StatusFailed, status)

	// A broken model fails creation
	s = newTestSDK(t, "no-such-backend", noObjects, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p, err := s.CreatePredictor()
	require.Error(t, err)
	require.Nil(t, p)
}

func TestEncodedSurfaces(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, twoDogs, "", nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	p := newTestPredictor(t, s)

	dir := t.TempDir()
	encoded, err := cimg.Compress(testImage(64, 64), cimg.MakeCompressParams(cimg.Sampling444, 95, 0))
	require.NoError(t, err)
	inFile := filepath.Join(dir, "in.jpg")
	require.NoError(t, os.WriteFile(inFile, encoded, 0644))

	outBuffer := filepath.Join(dir, "out-buffer.jpg")
	ev, status := s.CalcBuffer(p, encoded, "", outBuffer)
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, CodeAlarm, ev.Code)
	fromBuffer := string(ev.JSON)

	outFile := filepath.Join(dir, "out-file.jpg")
	ev, status = s.CalcFile(p, inFile, "", outFile)
	require.Equal(t, StatusSucceed, status)
	require.Equal(t, fromBuffer, string(ev.JSON))

	require.EqualValues(t, 2, p.Stats().Decode.Samples)
	require.EqualValues(t, 2, p.Stats().Detect.Samples)

	for _, fn := range []string{outBuffer, outFile} {
		img, err := cimg.ReadFile(fn)
		require.NoError(t, err)
		require.Equal(t, 64, img.Width)
		require.Equal(t, 64, img.Height)
	}

	// No output file is written when processing fails
	failed := filepath.Join(dir, "failed.jpg")
	_, status = s.CalcBuffer(p, []byte("garbage"), "", failed)
	require.Equal(t, StatusFailed, status)
	require.NoFileExists(t, failed)
}

func TestConfigFallback(t *testing.T) {
	s := newTestSDK(t, nnload.ReplayArchitecture, noObjects, `{"nms": "0.1", "thresh": 0.25`, nil)
	require.Nil(t, s.Config())
	require.Equal(t, StatusSucceed, s.Init(nil))
	require.Equal(t, 0.5, s.Config().Thresh)
	require.Equal(t, 0.6, s.Config().NMS)

	s = newTestSDK(t, nnload.ReplayArchitecture, noObjects, `{"nms": "0.1", "thresh": 0.25}`, nil)
	require.Equal(t, StatusSucceed, s.Init(nil))
	require.Equal(t, 0.25, s.Config().Thresh)
	require.Equal(t, 0.6, s.Config().NMS)
	p := newTestPredictor(t, s)
	require.Equal(t, float32(0.25), p.params.ProbabilityThreshold)
}
