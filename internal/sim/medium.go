package sim

import (
	"math/rand"
	"time"

	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/protocol"
	"github.com/danmuck/tina/internal/sched"
)

// MediumConfig shapes the shared radio channel.
type MediumConfig struct {
	// Airtime is how long a sender's radio stays busy per frame.
	Airtime time.Duration
	// Jitter is the largest extra delay added per receiver.
	Jitter time.Duration
	// LossRate drops each receiver's copy independently.
	LossRate float64
	// StuckRate is the chance a send never signals completion, which
	// exercises the send watchdog.
	StuckRate float64
	Seed      int64
}

func DefaultMediumConfig() MediumConfig {
	return MediumConfig{
		Airtime: 4 * time.Millisecond,
		Jitter:  20 * time.Millisecond,
		Seed:    1,
	}
}

type MediumStats struct {
	Sent      uint64
	Delivered uint64
	Lost      uint64
	Stuck     uint64
	Busy      uint64
}

type endpoint interface {
	Receive([]byte)
	SendDone(error)
}

// Medium is a lossy broadcast channel over a neighbour map. Every
// transmission is heard by all neighbours of the sender; nodes filter by
// destination themselves.
type Medium struct {
	clock      sched.Clock
	cfg        MediumConfig
	rng        *rand.Rand
	neighbours map[protocol.NodeID][]protocol.NodeID
	endpoints  map[protocol.NodeID]endpoint
	busy       map[protocol.NodeID]bool
	down       map[protocol.NodeID]bool
	stats      MediumStats
}

func NewMedium(clock sched.Clock, neighbours map[protocol.NodeID][]protocol.NodeID, cfg MediumConfig) *Medium {
	return &Medium{
		clock:      clock,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		neighbours: neighbours,
		endpoints:  make(map[protocol.NodeID]endpoint),
		busy:       make(map[protocol.NodeID]bool),
		down:       make(map[protocol.NodeID]bool),
	}
}

func (m *Medium) Attach(id protocol.NodeID, ep endpoint) {
	m.endpoints[id] = ep
}

// Radio returns the node-side handle for id.
func (m *Medium) Radio(id protocol.NodeID) node.Radio {
	return &simRadio{m: m, id: id}
}

// SetDown silences id: it neither sends nor hears.
func (m *Medium) SetDown(id protocol.NodeID, down bool) {
	m.down[id] = down
}

// SetLoss changes the loss and stuck-send rates mid-run.
func (m *Medium) SetLoss(loss, stuck float64) {
	m.cfg.LossRate = loss
	m.cfg.StuckRate = stuck
}

func (m *Medium) Stats() MediumStats { return m.stats }

type simRadio struct {
	m  *Medium
	id protocol.NodeID
}

func (r *simRadio) Send(dst protocol.NodeID, frame []byte) error {
	return r.m.transmit(r.id, frame)
}

func (m *Medium) transmit(src protocol.NodeID, frame []byte) error {
	if m.busy[src] {
		m.stats.Busy++
		return node.ErrRadioBusy
	}
	m.busy[src] = true
	m.stats.Sent++
	done := m.clock.Now().Add(m.cfg.Airtime)
	cp := append([]byte(nil), frame...)

	if !m.down[src] {
		for _, nb := range m.neighbours[src] {
			ep, ok := m.endpoints[nb]
			if !ok || m.down[nb] {
				continue
			}
			if m.cfg.LossRate > 0 && m.rng.Float64() < m.cfg.LossRate {
				m.stats.Lost++
				continue
			}
			at := done
			if m.cfg.Jitter > 0 {
				at = at.Add(time.Duration(m.rng.Int63n(int64(m.cfg.Jitter))))
			}
			m.stats.Delivered++
			m.clock.Schedule(at, func() { ep.Receive(cp) })
		}
	}

	stuck := m.cfg.StuckRate > 0 && m.rng.Float64() < m.cfg.StuckRate
	if stuck {
		m.stats.Stuck++
	}
	m.clock.Schedule(done, func() {
		m.busy[src] = false
		if stuck || m.down[src] {
			return
		}
		if ep, ok := m.endpoints[src]; ok {
			ep.SendDone(nil)
		}
	})
	return nil
}
