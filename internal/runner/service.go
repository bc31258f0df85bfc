// Package runner drives one simulated TAG/TiNA deployment from a config:
// it builds the network, exposes the sink over HTTP and MQTT, and either
// steps a virtual clock one epoch at a time or lets a wall-clock loop run
// the nodes in real time.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tina/internal/auth"
	"github.com/danmuck/tina/internal/config"
	"github.com/danmuck/tina/internal/node"
	"github.com/danmuck/tina/internal/sched"
	"github.com/danmuck/tina/internal/sim"
	"github.com/danmuck/tina/internal/sink"
)

type Service struct {
	cfg config.Config

	// mu is held while the virtual clock runs so HTTP handlers see the
	// sink between epochs only. It also guards epochs.
	mu        sync.Mutex
	network   *sim.Network
	reports   *sink.ReportLog
	publisher *sink.Publisher
	server    *sink.Server
	epochs    int

	// wall clock runs only
	loop       *sched.LoopClock
	loopDone   chan struct{}
	epochsDone chan struct{}
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until the configured epochs have run, or until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	defer s.shutdown()
	return s.serve(ctx)
}

func (s *Service) Network() *sim.Network    { return s.network }
func (s *Service) Reports() *sink.ReportLog { return s.reports }
func (s *Service) Server() *sink.Server     { return s.server }

// EpochsRun is how many epochs the run completed. Wall clock runs count
// the sink's epoch reports.
func (s *Service) EpochsRun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs
}

func (s *Service) Summary() sim.Summary {
	var sum sim.Summary
	s.do(func() { sum = s.network.Summary() })
	return sum
}

// do runs fn serialised with the network: under mu for a virtual clock,
// posted onto the loop for a wall clock. Once the loop has stopped nothing
// else touches the network, so fn runs under mu.
func (s *Service) do(fn func()) {
	if s.loop == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
		return
	}
	ran := make(chan struct{})
	s.loop.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-s.loopDone:
		select {
		case <-ran:
		default:
			s.mu.Lock()
			defer s.mu.Unlock()
			fn()
		}
	}
}

func (s *Service) bootstrap() error {
	if err := config.Validate(s.cfg); err != nil {
		return err
	}
	links, err := s.cfg.Links()
	if err != nil {
		return err
	}

	s.reports = sink.NewReportLog(sink.DefaultLogSize)
	reporters := sink.Reporters{s.reports}
	if s.cfg.MQTT.Enabled {
		pub, err := sink.DialMQTT(s.cfg.MQTT.MQTTConfig, s.cfg.Sink)
		if err != nil {
			return err
		}
		s.publisher = pub
		reporters = append(reporters, pub)
	}

	var clock sched.Clock
	if s.cfg.Clock == config.ClockWall {
		s.loop = sched.NewLoopClock()
		s.loopDone = make(chan struct{})
		s.epochsDone = make(chan struct{})
		clock = s.loop
		reporters = append(reporters, node.ReporterFunc(s.countEpoch))
	}

	nw, err := sim.New(sim.Config{
		Links:    links,
		Sink:     s.cfg.Sink,
		Node:     s.cfg.Node,
		Medium:   s.cfg.Medium,
		Sensors:  s.cfg.SensorFactory(),
		Reporter: reporters,
		Clock:    clock,
	})
	if err != nil {
		s.shutdown()
		return err
	}
	s.network = nw

	for _, f := range s.cfg.Failures {
		if nw.Node(f.Node) == nil {
			s.shutdown()
			return fmt.Errorf("%w: failure targets unknown node %s", config.ErrInvalid, f.Node)
		}
		id := f.Node
		at := nw.Origin().Add(s.cfg.EpochAt(f.AtEpoch))
		nw.Clock().Schedule(at, func() {
			if err := nw.Fail(id); err != nil {
				log.Warn().Err(err).Stringer("node", id).Msg("scheduled failure skipped")
			}
		})
	}

	if s.cfg.HTTP.Enabled {
		var control sink.Control = sink.LockedControl{Mu: &s.mu, Node: nw.Sink()}
		if s.loop != nil {
			control = sink.PostedControl{Post: s.loop.Post, Done: s.loopDone, Node: nw.Sink()}
		}
		s.server = sink.NewServer(
			fmt.Sprintf("sink-%s", s.cfg.Sink),
			s.cfg.HTTP.Addr,
			s.cfg.HTTP.CorsOrigins,
			s.reports,
			control,
		)
		if s.cfg.HTTP.Token != "" {
			s.server.RequireToken(auth.StaticToken{Token: s.cfg.HTTP.Token})
		}
	}

	ev := log.Info().
		Str("clock", s.cfg.Clock).
		Int("nodes", len(nw.IDs())).
		Int("links", len(links)).
		Stringer("sink", s.cfg.Sink).
		Stringer("mode", s.cfg.Node.Params.Mode).
		Uint8("tct", s.cfg.Node.Params.TCT).
		Int("epochs", s.cfg.Epochs)
	if s.loop != nil && s.cfg.Speed > 0 {
		ev = ev.Float64("ignored_speed", s.cfg.Speed)
	}
	ev.Msg("runner bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	if s.server != nil {
		go func() { serverErr <- s.server.Serve(ctx) }()
	}

	var runErr error
	if s.loop != nil {
		loopCtx, stopLoop := context.WithCancel(context.Background())
		go func() {
			_ = s.loop.Run(loopCtx)
			close(s.loopDone)
		}()
		defer func() {
			stopLoop()
			<-s.loopDone
		}()
		runErr = s.runWall(ctx, serverErr)
	} else {
		runErr = s.runVirtual(ctx, serverErr)
	}

	if err := s.finish(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	if s.server != nil && s.cfg.HTTP.Linger && ctx.Err() == nil {
		log.Info().Str("addr", s.cfg.HTTP.Addr).Msg("run complete, sink api still serving")
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			return err
		}
	}
	return nil
}

// runVirtual steps the virtual clock one epoch at a time, pacing by Speed.
func (s *Service) runVirtual(ctx context.Context, serverErr <-chan error) error {
	s.do(s.network.Start)

	pace := time.Duration(0)
	if s.cfg.Speed > 0 {
		pace = time.Duration(float64(s.cfg.Node.EpochPeriod) / s.cfg.Speed)
	}
	for i := 0; i < s.cfg.Epochs; i++ {
		s.mu.Lock()
		s.network.RunEpochs(1)
		s.epochs++
		s.mu.Unlock()
		s.logEpoch(i + 1)

		if pace <= 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		t := time.NewTimer(pace)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case err := <-serverErr:
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return nil
}

// runWall starts the nodes on the loop and waits for the sink to close
// the configured number of epochs.
func (s *Service) runWall(ctx context.Context, serverErr <-chan error) error {
	s.do(s.network.Start)
	select {
	case <-s.epochsDone:
		return nil
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return err
	}
}

// countEpoch runs on the loop after the report log has the report.
func (s *Service) countEpoch(node.EpochReport) {
	s.mu.Lock()
	s.epochs++
	n := s.epochs
	s.mu.Unlock()
	s.logEpoch(n)
	if n == s.cfg.Epochs {
		close(s.epochsDone)
	}
}

func (s *Service) logEpoch(epoch int) {
	r, ok := s.reports.Latest()
	if !ok {
		log.Debug().Int("epoch", epoch).Msg("no sink report yet")
		return
	}
	ev := log.Info().Int("epoch", epoch).Uint32("sink_epoch", r.Epoch).Str("mode", r.Mode)
	if r.HasMax {
		ev = ev.Uint8("max", r.Max)
	}
	if r.HasCount {
		ev = ev.Uint8("count", r.Count)
	}
	ev.Int("children", r.Children).Msg("sink aggregate")
}

func (s *Service) finish() error {
	var (
		sum     sim.Summary
		invalid error
		dot     bytes.Buffer
		dotErr  error
	)
	s.do(func() {
		sum = s.network.Summary()
		invalid = s.network.Validate()
		if s.cfg.DOTOutput != "" {
			dotErr = s.network.WriteTreeDOT(&dot)
		}
	})

	log.Info().
		Int("nodes", sum.Nodes).
		Int("joined", sum.Joined).
		Dur("elapsed", sum.Elapsed).
		Uint64("frames_sent", sum.FramesSent).
		Uint64("reports", sum.Reports).
		Uint64("suppressed", sum.Suppressed).
		Uint64("rejoins", sum.Rejoins).
		Uint64("link_timeouts", sum.LinkTimeouts).
		Uint64("queue_drops", sum.QueueDrops).
		Uint64("medium_lost", sum.Medium.Lost).
		Msg("run summary")

	if invalid != nil {
		log.Warn().Err(invalid).Msg("routing tree not valid at end of run")
	}

	if s.cfg.DOTOutput == "" {
		return nil
	}
	if dotErr != nil {
		return fmt.Errorf("runner: dot output: %w", dotErr)
	}
	if err := os.WriteFile(s.cfg.DOTOutput, dot.Bytes(), 0o644); err != nil {
		return fmt.Errorf("runner: dot output: %w", err)
	}
	log.Info().Str("path", s.cfg.DOTOutput).Msg("wrote routing tree")
	return nil
}

func (s *Service) shutdown() {
	if s.publisher != nil {
		s.publisher.Close()
		s.publisher = nil
	}
}

// ErrNoReport is returned by LatestReport before the sink has closed an
// epoch.
var ErrNoReport = errors.New("runner: no sink report yet")

func (s *Service) LatestReport() (node.EpochReport, error) {
	r, ok := s.reports.Latest()
	if !ok {
		return node.EpochReport{}, ErrNoReport
	}
	return r, nil
}
