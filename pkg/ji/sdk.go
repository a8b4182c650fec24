package ji

// Package ji is the boundary of the SDK. A host initializes the SDK once, creates one
// Predictor per worker, and submits images through one of the Calc functions.
// Every failure is reported as a Status, and no panic escapes.

import (
	"crypto/ed25519"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cyclopcam/evsdk/pkg/algoconf"
	"github.com/cyclopcam/evsdk/pkg/event"
	"github.com/cyclopcam/evsdk/pkg/license"
	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/evsdk/pkg/nnload"
	"github.com/cyclopcam/logs"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrNotInitialized = errors.New("SDK is not initialized")

// Number of arguments to Init when licensing is enabled:
// license, url, activation code, timestamp, qps, version
const NumLicenseArgs = 6

type Options struct {
	ConfigFile   string             // Algorithm config. Defaults to algoconf.DefaultConfigFile
	Model        nnload.ModelFiles  // Model material for every Predictor
	PublicKey    ed25519.PublicKey  // If not nil, Init requires a license signed by the matching private key
	Clock        func() time.Time   // Used by the license gate. Defaults to time.Now
	CapacityMode event.CapacityMode // Result buffer growth policy
	Registerer   prometheus.Registerer
}

type SDK struct {
	Log  logs.Log
	opts Options

	metrics *metrics

	lock       sync.Mutex
	config     *algoconf.Config // nil until Init. Read-only once set.
	gate       license.Gate
	predictors map[*Predictor]bool
}

// NewSDK creates an uninitialized SDK. If opts.Registerer is nil, metrics go to a private registry.
func NewSDK(log logs.Log, opts Options) (*SDK, error) {
	if opts.ConfigFile == "" {
		opts.ConfigFile = algoconf.DefaultConfigFile
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}
	return &SDK{
		Log:        log,
		opts:       opts,
		metrics:    m,
		predictors: map[*Predictor]bool{},
	}, nil
}

// Init verifies the license (if licensing is enabled) and loads the algorithm config.
// A missing or broken config file is logged, and the defaults are used.
func (s *SDK) Init(args []string) Status {
	gate := license.AllowAll()
	if s.opts.PublicKey != nil {
		if len(args) < NumLicenseArgs || args[0] == "" || args[5] == "" {
			return StatusInvalidParams
		}
		version, err := strconv.Atoi(args[5])
		if err != nil {
			s.Log.Errorf("Invalid SDK version '%v'", args[5])
			return StatusInvalidParams
		}
		// args 1..3 (url, activation code, timestamp) are for online activation, which we don't do
		qps, _ := strconv.Atoi(args[4])
		grant, err := license.Verify(s.opts.PublicKey, args[0], version)
		if err != nil {
			s.Log.Errorf("License check failed: %v", err)
			return StatusUnauthorized
		}
		lg := license.NewGate(*grant, qps, s.opts.Clock)
		s.Log.Infof("Licensed until %v, max QPS %v", grant.Expires, lg.QPS())
		gate = lg
	}

	config := algoconf.New()
	if err := config.Load(s.Log, s.opts.ConfigFile); err != nil {
		s.Log.Warnf("Config: Using defaults, because %v could not be loaded: %v", s.opts.ConfigFile, err)
		config = algoconf.New()
	}

	s.lock.Lock()
	s.config = config
	s.gate = gate
	s.lock.Unlock()
	return StatusSucceed
}

// Config returns a copy of the algorithm config, or nil before Init
func (s *SDK) Config() *algoconf.Config {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.config == nil {
		return nil
	}
	return s.config.Clone()
}

// Reinit resets the license call history, and releases the result buffers of all predictors
func (s *SDK) Reinit() {
	s.lock.Lock()
	gate := s.gate
	predictors := make([]*Predictor, 0, len(s.predictors))
	for p := range s.predictors {
		predictors = append(predictors, p)
	}
	s.lock.Unlock()

	if gate != nil {
		gate.Reset()
	}
	for _, p := range predictors {
		p.releaseResult()
	}
}

// CreatePredictor loads the model and returns a new Predictor
func (s *SDK) CreatePredictor() (*Predictor, error) {
	s.lock.Lock()
	config, gate := s.config, s.gate
	s.lock.Unlock()
	if config == nil {
		return nil, ErrNotInitialized
	}
	if err := gate.CheckExpireOnly(); err != nil {
		s.Log.Errorf("Refusing to create predictor: %v", err)
		return nil, err
	}

	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = float32(config.Thresh)
	params.NmsIouThreshold = float32(config.NMS)
	params.HierThreshold = float32(config.HierThresh)
	params.GPUID = config.GPUID

	model, err := nnload.LoadModel(s.Log, s.opts.Model, params)
	if err != nil {
		s.Log.Errorf("Failed to create predictor: %v", err)
		return nil, err
	}
	p := newPredictor(s.Log, config, params, model, s.opts.CapacityMode)

	s.lock.Lock()
	s.predictors[p] = true
	s.lock.Unlock()
	return p, nil
}

// DestroyPredictor closes the detector, and then releases the predictor's buffers.
// Destroying nil, or destroying twice, does nothing.
func (s *SDK) DestroyPredictor(p *Predictor) {
	if p == nil {
		return
	}
	p.close()
	s.lock.Lock()
	delete(s.predictors, p)
	s.lock.Unlock()
}

func (s *SDK) checkLicense() Status {
	s.lock.Lock()
	gate := s.gate
	s.lock.Unlock()
	if gate == nil {
		return StatusUnauthorized
	}
	return licenseStatus(gate.CheckExpire())
}
