// Package supervisor bootstraps one coordinator process: it wires storage,
// matcher, the 2PC coordinator, replication, the ring election, the
// reaper, and both transport listeners into a running internal/node.Node,
// then drives graceful shutdown on SIGINT/SIGTERM. Grounded on torua's
// cmd/coordinator/main.go signal-handling sequence, generalized into a
// reusable component so cmd/coordinator stays a thin flag-parsing shell.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/ridecoord/internal/election"
	"github.com/dreamware/ridecoord/internal/gatewayclient"
	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/matcher"
	"github.com/dreamware/ridecoord/internal/membership"
	"github.com/dreamware/ridecoord/internal/metrics"
	"github.com/dreamware/ridecoord/internal/node"
	"github.com/dreamware/ridecoord/internal/storage"
	"github.com/dreamware/ridecoord/internal/transport"
	"github.com/dreamware/ridecoord/internal/txn"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config is everything a coordinator process needs to start.
type Config struct {
	NodeID int
	Roster *membership.Roster

	// IsLeader bootstraps this node as the cluster's first leader (§6's
	// `<bin> <id> <is-leader:bool>` CLI line): right after the listeners
	// and ring come up, it starts a ring election immediately instead of
	// waiting for the failure detector's cold-start timeout. Exactly one
	// node in a freshly-booted cluster should set this; if none does, the
	// detector still converges the cluster on a leader once DetectorMaxMisses
	// ticks have elapsed with no leader known.
	IsLeader bool

	PeerListenAddr     string // TCP, binary wire.Envelope codec
	ExternalListenAddr string // TCP, newline-JSON wire.TextEnvelope codec
	ElectionListenAddr string // UDP
	MetricsListenAddr  string // HTTP, empty disables

	GatewayAddr string // empty means no payment gateway (preparePayment always votes yes)

	PrepareTimeout  time.Duration
	StallTimeout    time.Duration
	ReaperInterval  time.Duration
	WriterQueueSize int

	// DetectorInterval and DetectorMaxMisses size the §4.7 failure
	// detector: it pings the believed leader every DetectorInterval and
	// starts an election after DetectorMaxMisses consecutive unanswered
	// pings (or, with no leader known at all, after the same number of
	// idle ticks).
	DetectorInterval  time.Duration
	DetectorMaxMisses int
}

func (c *Config) setDefaults() {
	if c.PrepareTimeout == 0 {
		c.PrepareTimeout = 2 * time.Second
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = 5 * time.Second
	}
	if c.ReaperInterval == 0 {
		c.ReaperInterval = time.Second
	}
	if c.WriterQueueSize == 0 {
		c.WriterQueueSize = 64
	}
	if c.DetectorInterval == 0 {
		c.DetectorInterval = 500 * time.Millisecond
	}
	if c.DetectorMaxMisses == 0 {
		c.DetectorMaxMisses = 3
	}
}

// Supervisor owns every long-lived goroutine and listener for one
// coordinator process.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	node     *node.Node
	ring     *election.Ring
	detector *election.Detector
	peers    *transport.ConnSet
	ext      *transport.TextConnSet

	peerLn     net.Listener
	externalLn net.Listener
	electionPC net.PacketConn
	metricsSrv *http.Server

	epochMu sync.Mutex
	epoch   int

	wg sync.WaitGroup
}

// New constructs a Supervisor without opening any sockets yet.
func New(cfg Config) (*Supervisor, error) {
	cfg.setDefaults()
	if cfg.Roster == nil {
		return nil, fmt.Errorf("supervisor: Roster is required")
	}

	store := storage.New()
	m := matcher.New(store)
	txnCoord := txn.New(store, cfg.PrepareTimeout)

	var gw *gatewayclient.Client
	if cfg.GatewayAddr != "" {
		gw = gatewayclient.New(cfg.GatewayAddr)
	}

	peers := transport.NewConnSet()
	ext := transport.NewTextConnSet()

	s := &Supervisor{
		cfg:   cfg,
		log:   logging.WithNode("supervisor", cfg.NodeID),
		peers: peers,
		ext:   ext,
	}

	s.node = node.New(node.Deps{
		NodeID:         cfg.NodeID,
		Store:          store,
		Matcher:        m,
		Txn:            txnCoord,
		Gateway:        gw,
		External:       ext,
		Peers:          peers,
		PrepareTimeout: cfg.PrepareTimeout,
		StallTimeout:   cfg.StallTimeout,
	})

	return s, nil
}

// Run opens every listener, starts every background goroutine, and blocks
// until ctx is cancelled or a SIGINT/SIGTERM arrives, then shuts down
// gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.listen(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.node.Run(ctx) }()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.ring.Run() }()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.detector.Run(s.electionPC) }()

	if s.cfg.IsLeader {
		s.log.Info().Msg("is-leader: starting bootstrap election")
		go s.ring.StartElection()
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx, s.peerLn, s.acceptPeer)
	s.wg.Add(1)
	go s.acceptLoop(ctx, s.externalLn, s.acceptExternal)

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.reapLoop(ctx) }()

	if s.metricsSrv != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
		s.log.Info().Msg("context cancelled")
	}

	return s.shutdown(cancel)
}

func (s *Supervisor) listen() error {
	var err error
	s.peerLn, err = net.Listen("tcp", s.cfg.PeerListenAddr)
	if err != nil {
		return fmt.Errorf("supervisor: listen peer: %w", err)
	}
	s.externalLn, err = net.Listen("tcp", s.cfg.ExternalListenAddr)
	if err != nil {
		return fmt.Errorf("supervisor: listen external: %w", err)
	}
	s.electionPC, err = net.ListenPacket("udp", s.cfg.ElectionListenAddr)
	if err != nil {
		return fmt.Errorf("supervisor: listen election: %w", err)
	}

	s.ring = election.NewRing(s.cfg.NodeID, s.cfg.Roster, s.electionPC)
	s.ring.OnBecomeLeader = func() {
		s.epochMu.Lock()
		s.epoch++
		epoch := s.epoch
		s.epochMu.Unlock()
		s.node.BecomeLeader(epoch)
	}
	s.ring.OnBecomeFollower = func(leaderID int) {
		s.node.BecomeFollower(leaderID)
		if member, ok := s.cfg.Roster.Lookup(leaderID); ok {
			s.node.SetLeaderAddr(member.TCPAddr)
		}
	}

	s.detector = election.NewDetector(s.ring, s.resolveElectionAddr, s.cfg.DetectorInterval, s.cfg.DetectorMaxMisses)

	if s.cfg.MetricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsSrv = &http.Server{Addr: s.cfg.MetricsListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return nil
}

// resolveElectionAddr satisfies election.Detector's resolve dependency,
// looking a node id up in the roster the same way sendToIDWithAck does.
func (s *Supervisor) resolveElectionAddr(id int) (string, bool) {
	member, ok := s.cfg.Roster.Lookup(id)
	if !ok {
		return "", false
	}
	return member.UDPAddr, true
}

func (s *Supervisor) acceptLoop(ctx context.Context, ln net.Listener, handle func(conn net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go handle(conn)
	}
}

func (s *Supervisor) acceptPeer(conn net.Conn) {
	// A fresh id per connection, not RemoteAddr, so a reconnecting peer
	// from behind the same NAT'd address never collides with a still-
	// draining stale writer for the same string key.
	peerID := uuid.NewString()
	w := transport.NewWriter(peerID, conn, s.cfg.WriterQueueSize, func(id string, _ error) {
		s.peers.Remove(id)
	})
	s.peers.Add(peerID, w)

	r := transport.NewReader(peerID, conn)
	r.Run(context.Background(), s.node.HandlePeer, func(id string, _ error) {
		s.peers.Remove(id)
	})
}

func (s *Supervisor) acceptExternal(conn net.Conn) {
	peerID := uuid.NewString()
	w := transport.NewTextWriter(peerID, conn, s.cfg.WriterQueueSize, func(id string, _ error) {
		s.ext.Remove(id)
		s.node.HandleDisconnect(id)
	})
	s.ext.Add(peerID, w)
	metrics.PeerConnections.Inc()

	r := transport.NewTextReader(peerID, conn)
	r.Run(context.Background(), s.node.HandleExternal, func(id string, _ error) {
		s.ext.Remove(id)
		s.node.HandleDisconnect(id)
		metrics.PeerConnections.Dec()
	})
}

func (s *Supervisor) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.node.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// shutdown stops accepting new work and waits (with a bound) for
// in-flight goroutines to drain, mirroring torua's main.go shutdown
// sequence: stop listeners, stop tickers, close sockets, wait.
func (s *Supervisor) shutdown(cancel context.CancelFunc) error {
	cancel()
	s.detector.Stop()
	_ = s.peerLn.Close()
	_ = s.externalLn.Close()
	_ = s.electionPC.Close()
	if s.metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = s.metricsSrv.Shutdown(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("shutdown timed out waiting for goroutines")
	}
	return nil
}
