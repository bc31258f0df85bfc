package sim

import (
	"math/rand"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/protocol"
)

// Constant always reads the same value.
type Constant uint8

func (c Constant) ReadLocalValue() uint8 { return uint8(c) }

// Scripted replays values in order and then holds the last one.
type Scripted struct {
	Values []uint8
	reads  int
}

func (s *Scripted) ReadLocalValue() uint8 {
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[min(s.reads, len(s.Values)-1)]
	s.reads++
	return v
}

// RandomWalk drifts by at most Step per reading, clamped to [Min, Max].
type RandomWalk struct {
	rng   *rand.Rand
	value int
	step  int
	lo    int
	hi    int
}

func NewRandomWalk(seed int64, start, step, lo, hi uint8) *RandomWalk {
	return &RandomWalk{
		rng:   rand.New(rand.NewSource(seed)),
		value: int(start),
		step:  int(step),
		lo:    int(lo),
		hi:    int(hi),
	}
}

func (w *RandomWalk) ReadLocalValue() uint8 {
	if w.step > 0 {
		w.value += w.rng.Intn(2*w.step+1) - w.step
	}
	w.value = max(w.lo, min(w.hi, w.value))
	return uint8(w.value)
}

// SensorFactory builds the sensor for one node.
type SensorFactory func(id protocol.NodeID) node.Sensor

// ConstantByID reads id modulo mod, a convenient fixed field for checks.
func ConstantByID(mod int) SensorFactory {
	return func(id protocol.NodeID) node.Sensor {
		return Constant(uint8(int(id) % mod))
	}
}

// RandomWalks gives every node its own walk seeded from seed and its id.
func RandomWalks(seed int64, step uint8) SensorFactory {
	return func(id protocol.NodeID) node.Sensor {
		rng := rand.New(rand.NewSource(seed + int64(id)))
		start := uint8(rng.Intn(60))
		return NewRandomWalk(seed^int64(id)<<16, start, step, 0, 99)
	}
}
