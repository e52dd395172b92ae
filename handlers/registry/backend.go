package registry

import (
	"fmt"

	"github.com/ufra-ai/ufra-core/internal/errors"
)

// Fallback priority when the requested backend is unavailable. Resolved once
// at init; inference code never branches on backend availability.
var fallbackOrder = []Backend{BackendCUDA, BackendROCm, BackendMetal, BackendCPU}

func ParseBackend(s string) (Backend, error) {
	switch s {
	case "cpu":
		return BackendCPU, nil
	case "cuda":
		return BackendCUDA, nil
	case "rocm":
		return BackendROCm, nil
	case "metal":
		return BackendMetal, nil
	}
	return BackendCPU, &errors.InitError{ErrorMsg: fmt.Sprintf("unknown backend %q", s)}
}

// resolveBackend picks the backend to bind: the requested one when available,
// otherwise the first available entry of the fallback chain. CPU is always
// available; accelerator availability comes from configuration since this
// core does not probe devices itself.
func resolveBackend(requested Backend, available []string) Backend {
	availSet := map[Backend]bool{BackendCPU: true}
	for _, name := range available {
		if b, err := ParseBackend(name); err == nil {
			availSet[b] = true
		}
	}
	if availSet[requested] {
		return requested
	}
	for _, b := range fallbackOrder {
		if availSet[b] {
			return b
		}
	}
	return BackendCPU
}
