package nnload

// Package nnload turns model material on disk into an nn.ObjectDetector, so that callers
// don't need to know which backend runs the model, or whether the model was encrypted.
//
// Backends register themselves by architecture name (the "architecture" field of the model config).

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cyclopcam/evsdk/pkg/modelcrypt"
	"github.com/cyclopcam/evsdk/pkg/nn"
	"github.com/cyclopcam/logs"
)

// BackendFactory creates a detector from a parsed model config and the weights file
type BackendFactory func(log logs.Log, config *nn.ModelConfig, weightsFile string, params *nn.DetectionParams) (nn.ObjectDetector, error)

var backendsLock sync.Mutex
var backends = map[string]BackendFactory{}

// RegisterBackend makes a backend available to LoadModel. Registering the same name twice replaces the first.
func RegisterBackend(architecture string, factory BackendFactory) {
	backendsLock.Lock()
	defer backendsLock.Unlock()
	backends[architecture] = factory
}

// Backends returns the names of the registered backends
func Backends() []string {
	backendsLock.Lock()
	defer backendsLock.Unlock()
	names := make([]string, 0, len(backends))
	for k := range backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(architecture string) (BackendFactory, bool) {
	backendsLock.Lock()
	defer backendsLock.Unlock()
	f, ok := backends[architecture]
	return f, ok
}

// ModelFiles describes where the model material comes from
type ModelFiles struct {
	ConfigFile      string // Model config JSON (see nn.ModelConfig). Ignored if EncryptedConfig is set.
	EncryptedConfig []byte // Output of modelcrypt.Encrypt of the model config JSON
	Key             string // Passphrase for EncryptedConfig
	WeightsFile     string // Handed to the backend as-is
	ClassFile       string // Optional. One class name per line. Overrides the classes in the model config.
}

// Obtain the raw model config, decrypting it if necessary
func readModelConfig(log logs.Log, files ModelFiles) ([]byte, error) {
	if files.EncryptedConfig != nil {
		log.Infof("Decrypting model...")
		raw, err := modelcrypt.Decrypt(files.EncryptedConfig, files.Key)
		if err != nil {
			return nil, err
		}
		log.Infof("Decrypted model size: %v", len(raw))
		return raw, nil
	}
	return os.ReadFile(files.ConfigFile)
}

// LoadModel reads the model material and creates the detector
func LoadModel(log logs.Log, files ModelFiles, params *nn.DetectionParams) (nn.ObjectDetector, error) {
	raw, err := readModelConfig(log, files)
	if err != nil {
		return nil, fmt.Errorf("Failed to read model config: %w", err)
	}
	config, err := nn.ParseModelConfig(raw)
	if err != nil {
		return nil, err
	}
	if files.ClassFile != "" {
		classes, err := nn.LoadClassFile(files.ClassFile)
		if err != nil {
			return nil, fmt.Errorf("Failed to read class file: %w", err)
		}
		config.Classes = classes
	}

	factory, ok := lookupBackend(config.Architecture)
	if !ok {
		return nil, fmt.Errorf("Unrecognized NN model type '%v' (available: %v)", config.Architecture, Backends())
	}
	model, err := factory(log, config, files.WeightsFile, params)
	if err != nil {
		return nil, fmt.Errorf("Failed to create %v detector: %w", config.Architecture, err)
	}
	log.Infof("Loaded %v model with %v classes", config.Architecture, len(config.Classes))
	return model, nil
}
