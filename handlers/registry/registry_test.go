package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaolacci/murmur3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufra-ai/ufra-core/internal/errors"
	"github.com/ufra-ai/ufra-core/pkg/configs"
)

func testConfigs(t *testing.T) *configs.AppConfigs {
	t.Helper()
	appConfigs, err := configs.Load("")
	require.NoError(t, err)
	return appConfigs
}

type fixtureModel struct {
	name     string
	kind     string
	weights  []float32
	dtype    uint8
	optional bool
}

func defaultFixtureModels() []fixtureModel {
	return []fixtureModel{
		{name: "face_detector", kind: KindFaceDetector, weights: []float32{0.002, 0.1}, dtype: DTypeFloat32},
		{name: "age_estimator", kind: KindAgeEstimator, weights: []float32{12, 20, 160}, dtype: DTypeFloat32},
		{name: "face_parser", kind: KindFaceParser, weights: []float32{0.18, 0.35, 0.5, 0.62, 0.78}, dtype: DTypeFloat32},
		{name: "feedforward_generator", kind: KindFeedforwardGenerator, weights: []float32{1, 0, 0.6, 0.45}, dtype: DTypeFloat32},
		{name: "diffusion_editor", kind: KindDiffusionEditor, weights: []float32{1, 0, 0.65, 0.5}, dtype: DTypeFloat32, optional: true},
	}
}

// writeModelDir lays out a loadable model directory and returns its path.
func writeModelDir(t *testing.T, fixtures []fixtureModel) string {
	t.Helper()
	dir := t.TempDir()

	descriptors := make([]map[string]interface{}, 0, len(fixtures))
	for _, fm := range fixtures {
		fileName := fm.name + ".ufra"
		raw, err := EncodeWeights(fm.weights, fm.dtype)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), raw, 0o644))
		descriptors = append(descriptors, map[string]interface{}{
			"name":     fm.name,
			"file":     fileName,
			"kind":     fm.kind,
			"checksum": fmt.Sprintf("%016x", murmur3.Sum64(raw)),
			"optional": fm.optional,
		})
	}

	manifest := map[string]interface{}{"version": "1.0.0", "models": descriptors}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644))
	return dir
}

func readyRegistry(t *testing.T, fixtures []fixtureModel) (*Registry, string) {
	t.Helper()
	reg := New(testConfigs(t))
	require.NoError(t, reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 1024}))
	t.Cleanup(reg.Close)
	dir := writeModelDir(t, fixtures)
	_, err := reg.LoadModels(dir)
	require.NoError(t, err)
	return reg, dir
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		config ModelConfig
	}{
		{"zero batch size", ModelConfig{Backend: BackendCPU, BatchSize: 0, MaxResolution: 512}},
		{"zero max resolution", ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 0}},
		{"unknown backend", ModelConfig{Backend: Backend(42), BatchSize: 1, MaxResolution: 512}},
		{"bad model path", ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512, ModelPath: "/does/not/exist"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := New(testConfigs(t))
			err := reg.Initialize(tc.config)
			require.Error(t, err)
			var initErr *errors.InitError
			assert.ErrorAs(t, err, &initErr)
		})
	}
}

func TestInitializeTwiceRejected(t *testing.T) {
	reg := New(testConfigs(t))
	require.NoError(t, reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512}))
	defer reg.Close()

	err := reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512})
	require.Error(t, err)
}

func TestResolveBackendFallsBackToCPU(t *testing.T) {
	assert.Equal(t, BackendCPU, resolveBackend(BackendCUDA, nil))
	assert.Equal(t, BackendCUDA, resolveBackend(BackendCUDA, []string{"cuda"}))
	// requested unavailable, another accelerator is
	assert.Equal(t, BackendROCm, resolveBackend(BackendCUDA, []string{"rocm"}))
	assert.Equal(t, BackendCPU, resolveBackend(BackendCPU, []string{"cuda"}))
}

func TestLoadModelsHappyPath(t *testing.T) {
	reg, _ := readyRegistry(t, defaultFixtureModels())

	assert.True(t, reg.IsReady())

	model, err := reg.Model("feedforward_generator")
	require.NoError(t, err)
	assert.Equal(t, KindFeedforwardGenerator, model.Kind)
	assert.Len(t, model.Weights, 4)

	byKind, err := reg.ModelByKind(KindDiffusionEditor)
	require.NoError(t, err)
	assert.Equal(t, "diffusion_editor", byKind.Name)

	assert.Contains(t, reg.VersionInfo(), "UFRa Engine")
	assert.Contains(t, reg.VersionInfo(), "manifest: 1.0.0")
}

func TestLoadModelsMissingFileFails(t *testing.T) {
	reg := New(testConfigs(t))
	require.NoError(t, reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512}))
	defer reg.Close()

	dir := writeModelDir(t, defaultFixtureModels())
	require.NoError(t, os.Remove(filepath.Join(dir, "feedforward_generator.ufra")))

	_, err := reg.LoadModels(dir)
	require.Error(t, err)
	var loadErr *errors.LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.False(t, reg.IsReady())
}

func TestLoadModelsMissingOptionalModelStillReady(t *testing.T) {
	reg := New(testConfigs(t))
	require.NoError(t, reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512}))
	defer reg.Close()

	dir := writeModelDir(t, defaultFixtureModels())
	require.NoError(t, os.Remove(filepath.Join(dir, "diffusion_editor.ufra")))

	manifest, err := reg.LoadModels(dir)
	require.NoError(t, err)
	assert.NotContains(t, manifest.Models, "diffusion_editor")
	assert.True(t, reg.IsReady())

	_, err = reg.ModelByKind(KindDiffusionEditor)
	require.Error(t, err)
}

func TestLoadModelsChecksumMismatchFails(t *testing.T) {
	reg := New(testConfigs(t))
	require.NoError(t, reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512}))
	defer reg.Close()

	dir := writeModelDir(t, defaultFixtureModels())
	path := filepath.Join(dir, "face_parser.ufra")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = reg.LoadModels(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
	assert.False(t, reg.IsReady())
}

func TestLoadModelsBadMagicFails(t *testing.T) {
	reg := New(testConfigs(t))
	require.NoError(t, reg.Initialize(ModelConfig{Backend: BackendCPU, BatchSize: 1, MaxResolution: 512}))
	defer reg.Close()

	fixtures := defaultFixtureModels()
	dir := writeModelDir(t, fixtures)
	path := filepath.Join(dir, "age_estimator.ufra")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(raw[:4], "JUNK")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	// checksum must match the tampered bytes so the header check is what trips
	rewriteChecksum(t, dir, "age_estimator", raw)

	_, err = reg.LoadModels(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func rewriteChecksum(t *testing.T, dir, name string, raw []byte) {
	t.Helper()
	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var manifest map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &manifest))
	for _, m := range manifest["models"].([]interface{}) {
		entry := m.(map[string]interface{})
		if entry["name"] == name {
			entry["checksum"] = fmt.Sprintf("%016x", murmur3.Sum64(raw))
		}
	}
	data, err = json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, data, 0o644))
}

func TestHalfPrecisionWeightsDecode(t *testing.T) {
	weights := []float32{0.25, -1.5, 3.0, 0.004}
	raw, err := EncodeWeights(weights, DTypeFloat16)
	require.NoError(t, err)

	decoded, dtype, err := DecodeWeights(raw)
	require.NoError(t, err)
	assert.Equal(t, DTypeFloat16, dtype)
	require.Len(t, decoded, len(weights))
	for i := range weights {
		assert.InDelta(t, float64(weights[i]), float64(decoded[i]), 0.01)
	}
}

func TestWriteWeightsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.ufra")
	weights := []float32{1, 2, 3}
	require.NoError(t, WriteWeights(path, weights, DTypeFloat32))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	decoded, dtype, err := DecodeWeights(raw)
	require.NoError(t, err)
	assert.Equal(t, DTypeFloat32, dtype)
	assert.Equal(t, weights, decoded)
}
