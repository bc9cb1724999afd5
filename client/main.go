// Command client is a debug command sender. It joins the game over the
// command queue and streams stick input typed on stdin:
//
//	join [uuid]   join as uuid (default: the configured or a random identity)
//	move X Y      hold the stick at (X, Y); sent every tick while non-zero
//	stop          release the stick
//	leave         leave the game
//	quit          leave and exit
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/srtgame/broker"
	"github.com/wfunc/srtgame/config"
	"github.com/wfunc/srtgame/emitter"
	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/protocol"
	"github.com/wfunc/srtgame/topology"
)

func main() {
	logger.Init("info")
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		logger.Log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topo, err := topology.New(cfg.Addresses())
	if err != nil {
		logger.Log.Fatalf("Invalid topology: %v", err)
	}

	logger.Log.Infof("Connecting to %s", cfg.Broker.URL)
	sess, err := broker.ConnectWithRetry(ctx, broker.Connect, cfg.Broker.URL, cfg.BrokerOptions(), cfg.RetryPolicy())
	if err != nil {
		logger.Log.Fatalf("Connect failed: %v", err)
	}
	defer sess.Close(context.Background())

	link, err := sess.OpenSend(ctx, topo.MustResolve(topology.CommandLoopback), nil)
	if err != nil {
		logger.Log.Fatalf("Open command link failed: %v", err)
	}

	id := cfg.Client.UUID
	if id == "" {
		id = uuid.New().String()
	}

	c := &client{
		emitter: emitter.New(link),
		intent:  &emitter.HeldIntent{},
		id:      id,
		tick:    cfg.Client.TickInterval,
	}
	defer c.leave(context.Background())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	logger.Log.Infof("Client ready as %s. Commands: join [uuid], move X Y, stop, leave, quit", id)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Interrupt received, leaving.")
			return
		case line, ok := <-lines:
			if !ok || !c.handle(ctx, line) {
				return
			}
		}
	}
}

type client struct {
	emitter *emitter.Emitter
	intent  *emitter.HeldIntent
	id      string
	tick    time.Duration

	joined     bool
	stopTicker context.CancelFunc
}

// handle runs one stdin command. It returns false to exit.
func (c *client) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "join":
		if len(fields) > 1 {
			c.leave(ctx)
			c.id = fields[1]
		}
		c.join(ctx)
	case "move":
		if len(fields) != 3 {
			logger.Log.Warn("usage: move X Y")
			return true
		}
		x, errX := strconv.ParseFloat(fields[1], 32)
		y, errY := strconv.ParseFloat(fields[2], 32)
		if errX != nil || errY != nil {
			logger.Log.Warnf("Invalid vector %q %q", fields[1], fields[2])
			return true
		}
		v := protocol.Vector2{X: float32(x), Y: float32(y)}
		if !v.IsFinite() {
			logger.Log.Warnf("Vector (%s, %s) is not finite", fields[1], fields[2])
			return true
		}
		c.intent.Set(v)
		logger.Log.Infof("-> holding (%g, %g)", x, y)
	case "stop":
		c.intent.Set(protocol.Vector2{})
	case "leave":
		c.leave(ctx)
	case "quit", "exit":
		return false
	default:
		logger.Log.Warnf("Unknown command %q", fields[0])
	}
	return true
}

func (c *client) join(ctx context.Context) {
	if c.joined {
		logger.Log.Infof("Already joined as %s", c.id)
		return
	}
	if err := c.emitter.Join(ctx, c.id); err != nil {
		logger.Log.Errorf("Join failed: %v", err)
		return
	}
	c.joined = true

	tickCtx, cancel := context.WithCancel(ctx)
	c.stopTicker = cancel
	go c.emitter.Run(tickCtx, c.id, c.intent, c.tick)
	logger.Log.Infof("-> SENT: join %s", c.id)
}

func (c *client) leave(ctx context.Context) {
	if !c.joined {
		return
	}
	c.stopTicker()
	c.intent.Set(protocol.Vector2{})
	if err := c.emitter.Leave(ctx, c.id); err != nil {
		logger.Log.Errorf("Leave failed: %v", err)
		return
	}
	c.joined = false
	logger.Log.Infof("-> SENT: leave %s", c.id)
}
