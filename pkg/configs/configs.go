package configs

import (
	"strings"

	"github.com/spf13/viper"
)

type Configs struct {
	ApplicationEnv      string `mapstructure:"app_env"`
	ApplicationLogLevel string `mapstructure:"app_log_level"`
	ApplicationName     string `mapstructure:"app_name"`

	//telegraf-config
	MetricsSamplingRate string `mapstructure:"metrics_sampling_rate"`
	Telegraf_Host       string `mapstructure:"telegraf_host"`
	Telegraf_Port       string `mapstructure:"telegraf_port"`

	//backend-config
	// Accelerators this deployment may bind; CPU is always available and
	// never needs to be listed.
	AvailableBackends []string `mapstructure:"backend_available"`

	//auto-mode-config
	AutoModeFpsThreshold        float64 `mapstructure:"autoMode_fpsThreshold"`
	AutoModeResolutionThreshold int     `mapstructure:"autoMode_resolutionThreshold"`

	//diffusion-config
	DiffusionSteps         int     `mapstructure:"diffusion_steps"`
	DiffusionGuidanceScale float64 `mapstructure:"diffusion_guidanceScale"`
	DiffusionStepTimeoutMs int     `mapstructure:"diffusion_stepTimeoutMs"`
	HybridRefineSteps      int     `mapstructure:"hybrid_refineSteps"`

	//stabilizer-config
	StabilizerEmbeddingWindow int     `mapstructure:"stabilizer_embeddingWindow"`
	StabilizerResetThreshold  float64 `mapstructure:"stabilizer_resetThreshold"`

	//session-config
	SessionIdleTTLSec int `mapstructure:"session_idleTtlSec"`

	//model-cache-config
	VariantCacheSize         int64  `mapstructure:"variantCache_size"`
	VariantCacheTTLSec       int64  `mapstructure:"variantCache_ttlSec"`
	WeightBlobCacheSizeBytes int    `mapstructure:"weightBlobCache_sizeInBytes"`
	ErrorLoggingPercent      int    `mapstructure:"error_logging_percent"`
	ManifestFileName         string `mapstructure:"manifest_fileName"`
}

type AppConfigs struct {
	Configs Configs
}

func (a *AppConfigs) GetStaticConfig() interface{} {
	return &a.Configs
}

// Load builds AppConfigs from defaults overridden by environment variables
// (UFRA_ prefix, "__" as nesting delimiter) and, when present, a
// "ufra" yaml file on the given search path.
func Load(configPath string) (*AppConfigs, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("UFRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigName("ufra")
		v.AddConfigPath(configPath)
		// A missing file is fine; defaults and env cover everything.
		_ = v.ReadInConfig()
	}

	appConfigs := &AppConfigs{}
	if err := v.Unmarshal(&appConfigs.Configs); err != nil {
		return nil, err
	}
	return appConfigs, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "local")
	v.SetDefault("app_log_level", "INFO")
	v.SetDefault("app_name", "ufra-core")

	v.SetDefault("metrics_sampling_rate", "1.0")
	v.SetDefault("telegraf_host", "localhost")
	v.SetDefault("telegraf_port", "8125")

	v.SetDefault("backend_available", []string{})

	v.SetDefault("autoMode_fpsThreshold", 24.0)
	v.SetDefault("autoMode_resolutionThreshold", 1024)

	v.SetDefault("diffusion_steps", 25)
	v.SetDefault("diffusion_guidanceScale", 3.5)
	v.SetDefault("diffusion_stepTimeoutMs", 0)
	v.SetDefault("hybrid_refineSteps", 8)

	v.SetDefault("stabilizer_embeddingWindow", 8)
	v.SetDefault("stabilizer_resetThreshold", 0.35)

	v.SetDefault("session_idleTtlSec", 300)

	v.SetDefault("variantCache_size", 64)
	v.SetDefault("variantCache_ttlSec", 3600)
	v.SetDefault("weightBlobCache_sizeInBytes", 32*1024*1024)
	v.SetDefault("error_logging_percent", 10)
	v.SetDefault("manifest_fileName", "manifest.json")
}
