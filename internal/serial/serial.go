package serial

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tarm/serial"

	"lora-gateway/internal/config"
	"lora-gateway/internal/node"
)

// Port is the gateway's single handle on the radio modem.
type Port struct {
	name   string
	rw     io.ReadWriteCloser
	lines  *LineReader
	framed bool
	logger *slog.Logger
}

type Options struct {
	Name    string
	MaxLine int
	Framed  bool
	Logger  *slog.Logger
}

// Open opens the configured device. It is called exactly once per process.
func Open(cfg config.Config, logger *slog.Logger) (*Port, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.SerialPort,
		Baud:        cfg.SerialBaud,
		Parity:      serial.ParityNone,
		ReadTimeout: cfg.SerialReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.SerialPort, err)
	}
	// Drop whatever the modem buffered before we attached.
	if err := p.Flush(); err != nil {
		logger.Warn("serial: flush failed", "port", cfg.SerialPort, "error", err)
	}
	logger.Info("serial: port opened",
		"port", cfg.SerialPort,
		"baud", cfg.SerialBaud,
		"read_timeout", cfg.SerialReadTimeout,
		"crc", cfg.SerialLineCRC,
	)
	return NewPort(p, Options{
		Name:    cfg.SerialPort,
		MaxLine: cfg.SerialMaxLine,
		Framed:  cfg.SerialLineCRC,
		Logger:  logger,
	}), nil
}

// NewPort wraps an already open stream.
func NewPort(rw io.ReadWriteCloser, opts Options) *Port {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Port{
		name:   opts.Name,
		rw:     rw,
		lines:  NewLineReader(rw, opts.MaxLine),
		framed: opts.Framed,
		logger: opts.Logger,
	}
}

// ReadLine returns one received line, if any is available.
func (p *Port) ReadLine() (string, bool, error) {
	line, ok, err := p.lines.Next()
	if err != nil || !ok {
		return "", false, err
	}
	if !p.framed {
		return line, true, nil
	}
	payload, err := Unframe(line)
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

// WriteDirective sends d to the node. Nothing acknowledges it.
func (p *Port) WriteDirective(d node.Directive) error {
	out := string(d)
	if p.framed {
		out = Frame(out) + "\n"
	}
	if _, err := io.WriteString(p.rw, out); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	p.logger.Debug("serial: directive written", "port", p.name, "directive", string(d), "bytes", len(out))
	return nil
}

func (p *Port) Close() error {
	return p.rw.Close()
}
