package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/srtgame/broadcast"
	"github.com/wfunc/srtgame/broker"
	"github.com/wfunc/srtgame/config"
	"github.com/wfunc/srtgame/dispatch"
	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/monitor"
	"github.com/wfunc/srtgame/persistence"
	"github.com/wfunc/srtgame/topology"
	"github.com/wfunc/srtgame/world"
)

var ErrAlreadyStarted = errors.New("server already started")

type Options struct {
	Presenter world.EntityPresenter
	// Store is optional. Without it membership is kept in memory only.
	Store persistence.MembershipStore
	// Dialer defaults to broker.Connect.
	Dialer  broker.Dialer
	Monitor *monitor.Monitor
}

// GameServer consumes the command queue into the world roster and relays
// applied commands on the game-event topic.
type GameServer struct {
	cfg       *config.Config
	topology  *topology.Topology
	presenter world.EntityPresenter
	store     persistence.MembershipStore
	dial      broker.Dialer
	monitor   *monitor.Monitor

	mutex    sync.Mutex
	session  *broker.Session
	world    *world.World
	commands *broker.ReceiveLink
}

func NewGameServer(cfg *config.Config, opts Options) (*GameServer, error) {
	topo, err := topology.New(cfg.Addresses())
	if err != nil {
		return nil, err
	}
	s := &GameServer{
		cfg:       cfg,
		topology:  topo,
		presenter: opts.Presenter,
		store:     opts.Store,
		dial:      opts.Dialer,
		monitor:   opts.Monitor,
	}
	if s.presenter == nil {
		s.presenter = world.LogPresenter{}
	}
	if s.dial == nil {
		s.dial = broker.Connect
	}
	if s.monitor == nil {
		s.monitor = monitor.NewMonitor(cfg.Monitor.Namespace)
	}
	return s, nil
}

// Start is the init phase: connect with retry, open the links, then begin
// consuming. After it returns the server runs on the receive goroutines.
func (s *GameServer) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.session != nil {
		return ErrAlreadyStarted
	}

	if s.store != nil {
		if err := s.store.ResetOnline(ctx); err != nil {
			logger.Log.Warnf("Failed to reset stored membership: %v", err)
		}
	}

	opts := s.cfg.BrokerOptions()
	opts.Metrics = s.monitor
	sess, err := broker.ConnectWithRetry(ctx, s.dialWithTimeout, s.cfg.Broker.URL, opts, s.cfg.RetryPolicy())
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	w, commands, err := s.openLinks(ctx, sess)
	if err != nil {
		if cerr := sess.Close(context.Background()); cerr != nil {
			logger.Log.Warnf("Closing broker session after failed start: %v", cerr)
		}
		return err
	}
	s.session = sess
	s.world = w
	s.commands = commands

	if s.cfg.Monitor.Address != "" {
		s.monitor.StartServer(s.cfg.Monitor.Address)
	}
	logger.Log.Infof("Game server consuming %s", commands.Address())
	return nil
}

func (s *GameServer) openLinks(ctx context.Context, sess *broker.Session) (*world.World, *broker.ReceiveLink, error) {
	var relay world.Broadcaster
	if s.cfg.Dispatch.Relay {
		events, err := sess.OpenSend(ctx, s.topology.MustResolve(topology.GameEvents), nil)
		if err != nil {
			return nil, nil, err
		}
		relay = broadcast.NewTopicBroadcaster(events)
	}

	var store world.MembershipStore
	if s.store != nil {
		store = s.store
	}
	w := world.NewWorld(s.presenter, store, relay, s.monitor)
	d := dispatch.New(w, s.monitor)

	commands, err := sess.OpenReceive(ctx, s.topology.MustResolve(topology.CommandIn), d.HandleDelivery)
	if err != nil {
		return nil, nil, err
	}
	return w, commands, nil
}

func (s *GameServer) dialWithTimeout(ctx context.Context, endpoint string, opts broker.Options) (*broker.Session, error) {
	if s.cfg.Broker.ConnectTimeout <= 0 {
		return s.dial(ctx, endpoint, opts)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Broker.ConnectTimeout)
	defer cancel()
	return s.dial(ctx, endpoint, opts)
}

// World is nil until Start succeeds.
func (s *GameServer) World() *world.World {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.world
}

// Session is the live broker session, nil until Start succeeds.
func (s *GameServer) Session() *broker.Session {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.session
}

// Done is closed when command consumption stops. A nil channel before Start
// blocks forever.
func (s *GameServer) Done() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.commands == nil {
		return nil
	}
	return s.commands.Done()
}

// Shutdown closes the broker session, then the metrics endpoint.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	sess := s.session
	s.mutex.Unlock()

	var errs []error
	if sess != nil {
		if err := sess.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.monitor.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server: %w", err))
	}
	logger.Log.Info("Game server stopped")
	return errors.Join(errs...)
}
