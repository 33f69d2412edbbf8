package station

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wx-station-poller/internal/models"
	"github.com/kjstillabower/wx-station-poller/internal/observability"
)

// Default per-phase timeouts and the vendor-recommended wakeup attempt count.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultWakeupTimeout  = 1200 * time.Millisecond
	DefaultReadTimeout    = 3 * time.Second
	DefaultDrainTimeout   = 100 * time.Millisecond
	DefaultWakeupAttempts = 3
)

// drainBufSize is the read size used while discarding stale input.
const drainBufSize = 1024

// Config holds the station address and per-phase timeouts. Read-only after construction.
type Config struct {
	Address        string // host:port of the console's TCP bridge
	ConnectTimeout time.Duration
	WakeupTimeout  time.Duration
	ReadTimeout    time.Duration
	// DrainTimeout bounds how long stale input is discarded before each
	// wakeup attempt and each command.
	DrainTimeout   time.Duration
	WakeupAttempts int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WakeupTimeout <= 0 {
		c.WakeupTimeout = DefaultWakeupTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.WakeupAttempts <= 0 {
		c.WakeupAttempts = DefaultWakeupAttempts
	}
	return c
}

// Link owns one TCP connection to the console for the lifetime of a poll cycle.
// Not safe for concurrent use; create one per cycle.
type Link struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time // reading timestamps only; deadlines use the wall clock

	conn net.Conn
	r    *bufio.Reader
}

// NewLink returns an unopened Link. Zero timeouts fall back to the defaults.
func NewLink(cfg Config, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Link{
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Open dials the console with the connect timeout. TCP keep-alive is disabled;
// the polling cadence stands in for liveness checks.
func (l *Link) Open(ctx context.Context) error {
	if l.conn != nil {
		return nil
	}
	d := net.Dialer{
		Timeout:   l.cfg.ConnectTimeout,
		KeepAlive: -1,
	}
	l.logger.Debug("connecting to station", zap.String("addr", l.cfg.Address))
	conn, err := d.DialContext(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnect, l.cfg.Address, err)
	}
	l.attach(conn)
	l.logger.Debug("connected to station", zap.String("addr", l.cfg.Address))
	return nil
}

func (l *Link) attach(conn net.Conn) {
	l.conn = conn
	l.r = bufio.NewReaderSize(conn, PacketSize+1)
}

// discardInput drops buffered bytes and whatever the console sends within the
// drain window, so the next read starts at the response to the next write.
// Leftovers are packets still streaming from an earlier LPS request or a
// wakeup echo that arrived after its attempt timed out.
func (l *Link) discardInput() error {
	dropped := l.r.Buffered()
	if dropped > 0 {
		_, _ = l.r.Discard(dropped)
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.DrainTimeout)); err != nil {
		return err
	}
	buf := make([]byte, drainBufSize)
	for {
		n, err := l.conn.Read(buf)
		dropped += n
		if err != nil {
			if dropped > 0 {
				l.logger.Debug("discarded stale input", zap.Int("bytes", dropped))
			}
			if isTimeout(err) {
				return nil
			}
			return err
		}
	}
}

// Wakeup sends a newline and expects "\n\r" back, retrying up to WakeupAttempts
// times with the wakeup timeout on each attempt. Each attempt first discards
// stale input. Per-attempt failures are swallowed; exhausting every attempt
// returns ErrWakeupFailed.
func (l *Link) Wakeup() error {
	if l.conn == nil {
		return errNotOpen
	}
	for attempt := 1; attempt <= l.cfg.WakeupAttempts; attempt++ {
		err := l.wakeupOnce()
		if err == nil {
			observability.StationWakeupAttemptsTotal.WithLabelValues("ok").Inc()
			return nil
		}
		observability.StationWakeupAttemptsTotal.WithLabelValues("failed").Inc()
		l.logger.Debug("wakeup attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w: no response after %d attempts", ErrWakeupFailed, l.cfg.WakeupAttempts)
}

func (l *Link) wakeupOnce() error {
	if err := l.discardInput(); err != nil {
		return err
	}
	if err := l.conn.SetDeadline(time.Now().Add(l.cfg.WakeupTimeout)); err != nil {
		return err
	}
	if err := l.write([]byte{'\n'}); err != nil {
		return err
	}
	b, err := l.r.ReadByte()
	if err != nil {
		return err
	}
	if b != '\n' {
		return fmt.Errorf("unexpected wakeup byte 0x%02x", b)
	}
	b, err = l.r.ReadByte()
	if err != nil {
		return err
	}
	if b != '\r' {
		return fmt.Errorf("unexpected wakeup byte 0x%02x", b)
	}
	return nil
}

// Request wakes the console, discards stale input and asks for count LOOP2
// packets ("LPS 2 <count>\n"). No response is read here. GetReading discards
// whatever is left of this response before its own wakeup.
func (l *Link) Request(count int) error {
	if count < 1 {
		return fmt.Errorf("station: packet count must be >= 1, got %d", count)
	}
	if err := l.Wakeup(); err != nil {
		return err
	}
	if err := l.discardInput(); err != nil {
		return ioError("discard input", err)
	}
	if err := l.conn.SetDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
		return ioError("set deadline", err)
	}
	if err := l.write([]byte("LPS 2 " + strconv.Itoa(count) + "\n")); err != nil {
		return ioError("write command", err)
	}
	return nil
}

// GetReading performs one wakeup, requests a single LOOP2 packet and decodes it.
func (l *Link) GetReading() (models.Reading, error) {
	if err := l.Request(1); err != nil {
		return models.Reading{}, err
	}

	ack, err := l.r.ReadByte()
	if err != nil {
		if isTimeout(err) {
			return models.Reading{}, ioError("read ack", err)
		}
		return models.Reading{}, fmt.Errorf("%w: ack not found: %w", ErrProtocol, err)
	}
	if ack != ACK {
		return models.Reading{}, fmt.Errorf("%w: ack not found (got 0x%02x)", ErrProtocol, ack)
	}

	buf := make([]byte, PacketSize)
	if _, err := io.ReadFull(l.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return models.Reading{}, fmt.Errorf("%w: short read: %w", ErrProtocol, err)
		}
		return models.Reading{}, ioError("read packet", err)
	}

	reading, err := DecodeLoop2(buf, l.now())
	if err != nil {
		return models.Reading{}, err
	}
	l.logger.Debug("reading decoded", zap.Stringer("reading", reading))
	return reading, nil
}

// write goes straight to the socket. A timed-out write must not poison the
// next attempt on the same link.
func (l *Link) write(p []byte) error {
	_, err := l.conn.Write(p)
	return err
}

// Close releases the write side, then the read side, then the socket. The
// first error is returned and later ones are dropped. Safe to call repeatedly.
func (l *Link) Close() error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn, l.r = nil, nil

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if c, ok := conn.(interface{ CloseWrite() error }); ok {
		keep(c.CloseWrite())
	}
	if c, ok := conn.(interface{ CloseRead() error }); ok {
		keep(c.CloseRead())
	}
	keep(conn.Close())
	return first
}
