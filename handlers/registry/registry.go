package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/knadh/koanf"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/spaolacci/murmur3"

	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/configs"
	"github.com/ufra-ai/ufra-core/pkg/inmemorycache"
	"github.com/ufra-ai/ufra-core/pkg/logger"
	"github.com/ufra-ai/ufra-core/pkg/metrics"
)

const engineVersion = "1.0.0"

// Registry owns model loading and backend binding. Loaded weights are
// immutable and may be read concurrently by any number of sessions; the
// registry itself is safe for concurrent use after LoadModels succeeds.
type Registry struct {
	mu sync.RWMutex

	appConfigs   *configs.AppConfigs
	config       ModelConfig
	boundBackend Backend
	initialized  bool
	ready        bool

	manifestVersion string
	models          *linkedhashmap.Map // model name -> *LoadedModel, manifest order

	variantCache *ristretto.Cache
	blobCache    *inmemorycache.V1
}

func New(appConfigs *configs.AppConfigs) *Registry {
	return &Registry{
		appConfigs: appConfigs,
		models:     linkedhashmap.New(),
	}
}

// Initialize validates the model configuration and binds an execution
// backend. The configuration is immutable afterwards; a second Initialize on
// the same Registry is rejected.
func (r *Registry) Initialize(config ModelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return &errors.InitError{ErrorMsg: "registry already initialized"}
	}
	if config.BatchSize <= 0 {
		return &errors.InitError{ErrorMsg: fmt.Sprintf("batch size must be positive, got %d", config.BatchSize)}
	}
	if config.MaxResolution <= 0 {
		return &errors.InitError{ErrorMsg: fmt.Sprintf("max resolution must be positive, got %d", config.MaxResolution)}
	}
	if config.Backend.String() == "unknown" {
		return &errors.InitError{ErrorMsg: "unknown backend requested"}
	}
	if config.ModelPath != "" {
		if info, err := os.Stat(config.ModelPath); err != nil || !info.IsDir() {
			return &errors.InitError{ErrorMsg: fmt.Sprintf("model path %q is not a directory", config.ModelPath)}
		}
	}

	cacheSize := r.appConfigs.Configs.VariantCacheSize
	variantCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return &errors.InitError{ErrorMsg: fmt.Sprintf("variant cache init failed: %v", err)}
	}

	r.config = config
	r.boundBackend = resolveBackend(config.Backend, r.appConfigs.Configs.AvailableBackends)
	r.variantCache = variantCache
	r.blobCache = inmemorycache.NewV1("weight-blobs", r.appConfigs.Configs.WeightBlobCacheSizeBytes)
	r.initialized = true

	if r.boundBackend != config.Backend {
		logger.Warn(fmt.Sprintf("Requested backend %s unavailable, bound %s", config.Backend, r.boundBackend))
	}
	metrics.Count("ufra.registry.initialize.total", 1, []string{"backend", r.boundBackend.String()})
	return nil
}

// LoadModels reads the manifest in dir and loads every referenced weight
// file. The load is all-or-nothing: any missing or corrupt non-optional file
// fails the call and leaves the registry not ready.
func (r *Registry) LoadModels(dir string) (*LoadedManifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, &errors.LoadError{ErrorMsg: "registry not initialized"}
	}

	startTime := time.Now()
	manifest, err := readManifest(filepath.Join(dir, r.appConfigs.Configs.ManifestFileName))
	if err != nil {
		return nil, err
	}

	loaded := linkedhashmap.New()
	names := make([]string, 0, len(manifest.Models))
	for _, desc := range manifest.Models {
		model, err := r.loadOne(dir, desc)
		if err != nil {
			if desc.Optional {
				logger.Warn(fmt.Sprintf("Optional model %s not loaded: %v", desc.Name, err))
				continue
			}
			metrics.Count("ufra.registry.load.error", 1, []string{"model", desc.Name})
			r.ready = false
			return nil, err
		}
		loaded.Put(desc.Name, model)
		names = append(names, desc.Name)
	}

	r.models = loaded
	r.manifestVersion = manifest.Version
	r.ready = true

	metrics.Timing("ufra.registry.load.latency", time.Since(startTime), nil)
	logger.Info(fmt.Sprintf("Loaded %d models from %s (manifest %s)", len(names), dir, manifest.Version))
	return &LoadedManifest{Version: manifest.Version, Models: names}, nil
}

func (r *Registry) loadOne(dir string, desc ModelDescriptor) (*LoadedModel, error) {
	cacheKey := desc.Name + ":" + desc.Checksum

	if cached, ok := r.variantCache.Get(cacheKey); ok {
		if model, ok := cached.(*LoadedModel); ok {
			return model, nil
		}
	}

	raw, err := r.readBlob(filepath.Join(dir, desc.File), desc)
	if err != nil {
		return nil, err
	}

	if desc.Checksum != "" {
		sum := fmt.Sprintf("%016x", murmur3.Sum64(raw))
		if sum != desc.Checksum {
			return nil, &errors.LoadError{
				ErrorMsg: fmt.Sprintf("model %s checksum mismatch: manifest %s, file %s", desc.Name, desc.Checksum, sum),
			}
		}
	}

	weights, dtype, err := DecodeWeights(raw)
	if err != nil {
		return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("model %s: %v", desc.Name, err)}
	}

	model := &LoadedModel{
		Name:          desc.Name,
		Kind:          desc.Kind,
		HalfPrecision: dtype == DTypeFloat16 || r.config.UseHalfPrecision,
		Weights:       weights,
	}
	r.variantCache.SetWithTTL(cacheKey, model, 1, time.Duration(r.appConfigs.Configs.VariantCacheTTLSec)*time.Second)
	return model, nil
}

func (r *Registry) readBlob(path string, desc ModelDescriptor) ([]byte, error) {
	blobKey := []byte(path + ":" + desc.Checksum)
	if desc.Checksum != "" {
		if raw, err := r.blobCache.Get(blobKey); err == nil {
			return raw, nil
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("model %s: missing weight file %s", desc.Name, path)}
	}
	if desc.Checksum != "" {
		if err := r.blobCache.Set(blobKey, raw); err != nil {
			logger.Warn(fmt.Sprintf("Weight blob cache rejected %s: %v", path, err))
		}
	}
	return raw, nil
}

func readManifest(path string) (*Manifest, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("manifest read failed: %v", err)}
	}
	manifest := &Manifest{}
	if err := k.Unmarshal("", manifest); err != nil {
		return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("manifest parse failed: %v", err)}
	}
	if len(manifest.Models) == 0 {
		return nil, &errors.LoadError{ErrorMsg: "manifest references no models"}
	}
	return manifest, nil
}

func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

func (r *Registry) BoundBackend() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.boundBackend
}

func (r *Registry) Config() ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Model returns a loaded model by manifest name.
func (r *Registry) Model(name string) (*LoadedModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil, &errors.LoadError{ErrorMsg: "models not loaded"}
	}
	if v, ok := r.models.Get(name); ok {
		return v.(*LoadedModel), nil
	}
	return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("model %q not in manifest", name)}
}

// ModelByKind returns the first loaded model of the given kind, in manifest
// order.
func (r *Registry) ModelByKind(kind string) (*LoadedModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil, &errors.LoadError{ErrorMsg: "models not loaded"}
	}
	it := r.models.Iterator()
	for it.Next() {
		model := it.Value().(*LoadedModel)
		if model.Kind == kind {
			return model, nil
		}
	}
	return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("no loaded model of kind %q", kind)}
}

func (r *Registry) VersionInfo() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.manifestVersion == "" {
		return fmt.Sprintf("UFRa Engine v%s (backend: %s)", engineVersion, r.boundBackend)
	}
	return fmt.Sprintf("UFRa Engine v%s (backend: %s, manifest: %s)", engineVersion, r.boundBackend, r.manifestVersion)
}

// Close releases both caches. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.variantCache != nil {
		r.variantCache.Close()
		r.variantCache = nil
	}
	if r.blobCache != nil {
		r.blobCache.Close()
		r.blobCache = nil
	}
	r.ready = false
	r.initialized = false
}
