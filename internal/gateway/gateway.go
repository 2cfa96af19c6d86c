// Package gateway runs the read-forward-poll loop between the radio link and
// the cloud channel. The loop is strictly sequential: one goroutine owns the
// port, the cloud client and the poll timestamp.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lora-gateway/internal/node"
	"lora-gateway/internal/serial"
	"lora-gateway/internal/utils"
)

// Port is the radio side of the gateway.
type Port interface {
	ReadLine() (line string, ok bool, err error)
	WriteDirective(d node.Directive) error
}

// Cloud is the telemetry service side of the gateway.
type Cloud interface {
	Publish(ctx context.Context, r node.SensorReading) error
	PollCommand(ctx context.Context) (value string, found bool, err error)
}

// Journal keeps a local record of what went through the gateway.
type Journal interface {
	RecordReading(ctx context.Context, r node.SensorReading, receivedAt time.Time, publishErr error) error
	RecordDirective(ctx context.Context, value string, d node.Directive, sentAt time.Time) error
}

// Mirror republishes readings and directives to a secondary sink.
type Mirror interface {
	PublishReading(r node.SensorReading, receivedAt time.Time) error
	PublishDirective(d node.Directive, sentAt time.Time) error
}

type Options struct {
	PollInterval time.Duration // 15s when zero
	LoopInterval time.Duration // 100ms when zero
	ErrorPause   time.Duration // 1s when zero

	Journal Journal
	Mirror  Mirror
	Logger  *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Gateway struct {
	port  Port
	cloud Cloud

	pollInterval time.Duration
	loopInterval time.Duration
	errorPause   time.Duration

	journal Journal
	mirror  Mirror
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	lastCommandCheck time.Time
}

func New(port Port, cloud Cloud, opts Options) *Gateway {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.LoopInterval <= 0 {
		opts.LoopInterval = 100 * time.Millisecond
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Gateway{
		port:         port,
		cloud:        cloud,
		pollInterval: opts.PollInterval,
		loopInterval: opts.LoopInterval,
		errorPause:   opts.ErrorPause,
		journal:      opts.Journal,
		mirror:       opts.Mirror,
		logger:       opts.Logger,
		now:          opts.Now,
		sleep:        opts.Sleep,
	}
}

// Run loops until ctx is cancelled. No failure inside an iteration stops it.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway: loop started",
		"poll_interval", g.pollInterval,
		"loop_interval", g.loopInterval,
	)
	for {
		pause := g.loopInterval
		if err := g.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Error("gateway: iteration failed", "error", err, "pause", g.errorPause)
			pause = g.errorPause
		}
		if err := g.sleep(ctx, pause); err != nil {
			g.logger.Info("gateway: loop stopped")
			return err
		}
	}
}

// Step runs one iteration: read at most one line and forward it, then poll
// the command field if the interval has elapsed. Only a transport failure is
// returned; everything else is logged and absorbed here.
func (g *Gateway) Step(ctx context.Context) error {
	line, ok, err := g.port.ReadLine()
	switch {
	case err != nil:
		var fe *serial.FrameError
		if !errors.As(err, &fe) {
			return err
		}
		g.logger.Warn("gateway: frame dropped", "error", err, "raw", utils.BytesToHex([]byte(fe.Line)))
	case ok:
		g.forward(ctx, line)
	}

	g.pollIfDue(ctx)
	return nil
}

func (g *Gateway) forward(ctx context.Context, line string) {
	receivedAt := g.now()

	reading, err := node.Decode(line)
	if err != nil {
		g.logger.Warn("gateway: discarding malformed reading", "error", err)
		return
	}

	pubErr := g.cloud.Publish(ctx, reading)
	if pubErr != nil {
		g.logger.Warn("gateway: publish failed, reading dropped",
			"error", pubErr,
			"temperature", reading.Temperature,
			"humidity", reading.Humidity,
			"sprinkler", reading.SprinklerOn,
		)
	} else {
		g.logger.Info("gateway: reading published",
			"temperature", reading.Temperature,
			"humidity", reading.Humidity,
			"sprinkler", reading.SprinklerOn,
		)
	}

	if g.journal != nil {
		if err := g.journal.RecordReading(ctx, reading, receivedAt, pubErr); err != nil {
			g.logger.Warn("gateway: journal write failed", "error", err)
		}
	}
	if g.mirror != nil {
		if err := g.mirror.PublishReading(reading, receivedAt); err != nil {
			g.logger.Debug("gateway: mirror publish skipped", "error", err)
		}
	}
}

func (g *Gateway) pollIfDue(ctx context.Context) {
	now := g.now()
	if !g.lastCommandCheck.IsZero() && now.Sub(g.lastCommandCheck) < g.pollInterval {
		return
	}
	// An attempted poll counts, whatever its outcome.
	g.lastCommandCheck = now

	value, found, err := g.cloud.PollCommand(ctx)
	if err != nil {
		g.logger.Warn("gateway: command poll failed", "error", err)
		return
	}
	if !found {
		g.logger.Debug("gateway: no command recorded")
		return
	}
	d, ok := node.DirectiveFor(value)
	if !ok {
		g.logger.Debug("gateway: ignoring command value", "value", value)
		return
	}
	g.sendDirective(ctx, value, d)
}

func (g *Gateway) sendDirective(ctx context.Context, value string, d node.Directive) {
	if err := g.port.WriteDirective(d); err != nil {
		g.logger.Error("gateway: directive not sent", "directive", string(d), "error", err)
		return
	}
	sentAt := g.now()
	g.logger.Info("gateway: directive sent", "directive", string(d))

	if g.journal != nil {
		if err := g.journal.RecordDirective(ctx, value, d, sentAt); err != nil {
			g.logger.Warn("gateway: journal write failed", "error", err)
		}
	}
	if g.mirror != nil {
		if err := g.mirror.PublishDirective(d, sentAt); err != nil {
			g.logger.Debug("gateway: mirror publish skipped", "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
