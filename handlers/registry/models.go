package registry

// Backend identifies an execution backend for model inference.
type Backend int

const (
	BackendCPU Backend = iota
	BackendCUDA
	BackendROCm
	BackendMetal
)

func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendCUDA:
		return "cuda"
	case BackendROCm:
		return "rocm"
	case BackendMetal:
		return "metal"
	}
	return "unknown"
}

// Model kinds referenced by the orchestration pipeline.
const (
	KindFaceDetector         = "face-detector"
	KindAgeEstimator         = "age-estimator"
	KindFaceParser           = "face-parser"
	KindFeedforwardGenerator = "feedforward-generator"
	KindDiffusionEditor      = "diffusion-editor"
)

// ModelConfig is the immutable configuration consumed at initialization.
// Invalid combinations fail Initialize; nothing here is re-read per frame.
type ModelConfig struct {
	ModelPath        string
	Backend          Backend
	BatchSize        int
	UseHalfPrecision bool
	MaxResolution    int
}

// ModelDescriptor is one manifest entry. Checksum is the murmur3-64 hex of
// the whole weight file; when empty only the structural header is validated.
type ModelDescriptor struct {
	Name     string `koanf:"name"`
	File     string `koanf:"file"`
	Kind     string `koanf:"kind"`
	Checksum string `koanf:"checksum"`
	Optional bool   `koanf:"optional"`
}

type Manifest struct {
	Version string            `koanf:"version"`
	Models  []ModelDescriptor `koanf:"models"`
}

// LoadedManifest reports what a successful LoadModels call bound.
type LoadedManifest struct {
	Version string
	Models  []string
}

// LoadedModel is an immutable, fully validated weight set. Safe for
// concurrent reads from any number of sessions.
type LoadedModel struct {
	Name          string
	Kind          string
	HalfPrecision bool
	Weights       []float32
}
