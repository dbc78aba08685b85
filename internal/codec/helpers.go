package codec

import (
	"math"

	"github.com/google/uuid"
)

func mathFloat32bits(v float32) uint32    { return math.Float32bits(v) }
func mathFloat32frombits(v uint32) float32 { return math.Float32frombits(v) }
func mathFloat64bits(v float64) uint64    { return math.Float64bits(v) }
func mathFloat64frombits(v uint64) float64 { return math.Float64frombits(v) }

func uuidFromBytes(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) }
