package registry

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/x448/float16"

	"github.com/ufra-ai/ufra-core/internal/errors"
)

// Weight file layout, little-endian:
//
//	magic   [4]byte "UFRA"
//	version uint8
//	dtype   uint8 (0 = float32, 1 = float16)
//	_       uint16 reserved
//	count   uint32
//	payload count * 4 (or 2) bytes
const (
	weightMagic   = "UFRA"
	weightVersion = 1
	headerSize    = 12

	DTypeFloat32 uint8 = 0
	DTypeFloat16 uint8 = 1
)

// DecodeWeights validates the structural header and returns the weight
// payload as float32 regardless of on-disk precision.
func DecodeWeights(raw []byte) ([]float32, uint8, error) {
	if len(raw) < headerSize {
		return nil, 0, &errors.LoadError{ErrorMsg: "weight file shorter than header"}
	}
	if string(raw[:4]) != weightMagic {
		return nil, 0, &errors.LoadError{ErrorMsg: "weight file has bad magic"}
	}
	if raw[4] != weightVersion {
		return nil, 0, &errors.LoadError{ErrorMsg: fmt.Sprintf("unsupported weight file version %d", raw[4])}
	}
	dtype := raw[5]
	count := int(binary.LittleEndian.Uint32(raw[8:12]))
	payload := raw[headerSize:]

	switch dtype {
	case DTypeFloat32:
		if len(payload) != count*4 {
			return nil, 0, &errors.LoadError{ErrorMsg: "weight payload length mismatch"}
		}
		out := make([]float32, count)
		for i := 0; i < count; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return out, dtype, nil
	case DTypeFloat16:
		if len(payload) != count*2 {
			return nil, 0, &errors.LoadError{ErrorMsg: "weight payload length mismatch"}
		}
		out := make([]float32, count)
		for i := 0; i < count; i++ {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(payload[i*2:])).Float32()
		}
		return out, dtype, nil
	}
	return nil, 0, &errors.LoadError{ErrorMsg: fmt.Sprintf("unknown weight dtype %d", dtype)}
}

// EncodeWeights serializes weights in the on-disk format. Used by model
// packaging tooling and test fixtures.
func EncodeWeights(weights []float32, dtype uint8) ([]byte, error) {
	if dtype != DTypeFloat32 && dtype != DTypeFloat16 {
		return nil, &errors.LoadError{ErrorMsg: fmt.Sprintf("unknown weight dtype %d", dtype)}
	}
	elem := 4
	if dtype == DTypeFloat16 {
		elem = 2
	}
	out := make([]byte, headerSize+len(weights)*elem)
	copy(out[:4], weightMagic)
	out[4] = weightVersion
	out[5] = dtype
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(weights)))
	for i, w := range weights {
		if dtype == DTypeFloat32 {
			binary.LittleEndian.PutUint32(out[headerSize+i*4:], math.Float32bits(w))
		} else {
			binary.LittleEndian.PutUint16(out[headerSize+i*2:], float16.Fromfloat32(w).Bits())
		}
	}
	return out, nil
}

// WriteWeights writes a weight file to disk.
func WriteWeights(path string, weights []float32, dtype uint8) error {
	raw, err := EncodeWeights(weights, dtype)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
