package poller

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/wx-station-poller/internal/models"
	"github.com/kjstillabower/wx-station-poller/internal/station"
)

// step is one scripted GetReading outcome.
type step struct {
	reading models.Reading
	err     error
}

type fakeLink struct {
	openErr    error
	requestErr error
	steps      []step

	opened    bool
	requested []int
	reads     int
	closes    int
}

func (f *fakeLink) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeLink) Request(count int) error {
	f.requested = append(f.requested, count)
	return f.requestErr
}

func (f *fakeLink) GetReading() (models.Reading, error) {
	if f.reads >= len(f.steps) {
		return models.Reading{}, errors.New("fake link: no more scripted readings")
	}
	s := f.steps[f.reads]
	f.reads++
	return s.reading, s.err
}

func (f *fakeLink) Close() error {
	f.closes++
	return nil
}

type collectSink struct{ got []models.Reading }

func (c *collectSink) Accept(_ context.Context, r models.Reading) error {
	c.got = append(c.got, r)
	return nil
}

func reading(wind, dir, gustDir int) models.Reading {
	return models.Reading{
		OutsideTemperature:       "70.0",
		WindSpeedMph:             wind,
		WindDirectionDegrees:     dir,
		WindGustSpeedMph:         wind + 1,
		WindGustDirectionDegrees: gustDir,
		OutsideHumidity:          50,
	}
}

func newTestCycle(t *testing.T, link *fakeLink, count int) *Cycle {
	t.Helper()
	c, err := NewCycle(func() Link { return link }, count, nil)
	require.NoError(t, err)
	return c
}

func TestCycle_Run_AllPublished(t *testing.T) {
	link := &fakeLink{steps: []step{
		{reading: reading(1, 10, 20)},
		{reading: reading(2, 30, 40)},
		{reading: reading(3, 50, 60)},
	}}
	sink := &collectSink{}

	res := newTestCycle(t, link, 3).Run(context.Background(), sink)

	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 3, res.Received)
	assert.Equal(t, 3, res.Published)
	assert.Equal(t, []int{3}, link.requested)
	assert.Equal(t, 1, link.closes)
	require.Len(t, sink.got, 3)
	for i, r := range sink.got {
		assert.Equal(t, i+1, r.WindSpeedMph, "reading %d out of order", i)
	}
	assert.Equal(t, "success", res.Status())
}

// TestCycle_Run_AbortsOnFirstError covers a mid-cycle protocol failure: the
// reading before it is forwarded, the one after it is never attempted.
func TestCycle_Run_AbortsOnFirstError(t *testing.T) {
	link := &fakeLink{steps: []step{
		{reading: reading(1, 10, 20)},
		{err: fmt.Errorf("%w: ack not found", station.ErrProtocol)},
		{reading: reading(3, 50, 60)},
	}}
	sink := &collectSink{}

	res := newTestCycle(t, link, 3).Run(context.Background(), sink)

	require.ErrorIs(t, res.Err, station.ErrProtocol)
	assert.Contains(t, res.Err.Error(), "reading 2 of 3")
	assert.Equal(t, 2, link.reads)
	assert.Equal(t, 1, link.closes)
	require.Len(t, sink.got, 1)
	assert.Equal(t, 1, sink.got[0].WindSpeedMph)
	assert.Equal(t, "error", res.Status())
}

func TestCycle_Run_OpenFailure(t *testing.T) {
	link := &fakeLink{openErr: fmt.Errorf("%w: dial: refused", station.ErrConnect)}
	sink := &collectSink{}

	res := newTestCycle(t, link, 1).Run(context.Background(), sink)

	require.ErrorIs(t, res.Err, station.ErrConnect)
	assert.Empty(t, link.requested)
	assert.Zero(t, link.reads)
	assert.Equal(t, 1, link.closes)
	assert.Empty(t, sink.got)
}

func TestCycle_Run_RequestFailure(t *testing.T) {
	link := &fakeLink{requestErr: fmt.Errorf("%w: no response after 3 attempts", station.ErrWakeupFailed)}

	res := newTestCycle(t, link, 2).Run(context.Background(), &collectSink{})

	require.ErrorIs(t, res.Err, station.ErrWakeupFailed)
	assert.Zero(t, link.reads)
	assert.Equal(t, 1, link.closes)
}

func TestCycle_Run_SuppressesSentinelDirections(t *testing.T) {
	link := &fakeLink{steps: []step{
		{reading: reading(1, 0, 20)},
		{reading: reading(2, 30, 40)},
		{reading: reading(3, 50, 361)},
	}}
	sink := &collectSink{}

	res := newTestCycle(t, link, 3).Run(context.Background(), sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Received)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 2, res.Suppressed)
	require.Len(t, sink.got, 1)
	assert.Equal(t, 2, sink.got[0].WindSpeedMph)
}

func TestCycle_Run_SinkErrorAborts(t *testing.T) {
	link := &fakeLink{steps: []step{
		{reading: reading(1, 10, 20)},
		{reading: reading(2, 30, 40)},
	}}
	errFull := errors.New("queue closed")
	sink := SinkFunc(func(context.Context, models.Reading) error { return errFull })

	res := newTestCycle(t, link, 2).Run(context.Background(), sink)

	require.ErrorIs(t, res.Err, errFull)
	assert.Equal(t, 1, link.reads)
	assert.Equal(t, 1, link.closes)
}

func TestNewCycle_Validation(t *testing.T) {
	_, err := NewCycle(nil, 1, nil)
	assert.Error(t, err)
	_, err = NewCycle(func() Link { return &fakeLink{} }, 0, nil)
	assert.Error(t, err)
}

// loop2Packet builds a minimal valid LOOP2 packet with the decoded fields set.
func loop2Packet(tempTenths int16, wind int8, dir, gust, gustDir int16, humidity int8) []byte {
	p := make([]byte, station.PacketSize)
	copy(p, "LOO")
	p[4] = 1
	binary.LittleEndian.PutUint16(p[12:], uint16(tempTenths))
	p[14] = byte(wind)
	binary.LittleEndian.PutUint16(p[16:], uint16(dir))
	binary.LittleEndian.PutUint16(p[22:], uint16(gust))
	binary.LittleEndian.PutUint16(p[24:], uint16(gustDir))
	p[33] = byte(humidity)
	return p
}

// serveConsole accepts one connection and plays a console that answers
// wakeups, and answers "LPS 2 n" with ack plus the next n packets in order
// whether or not the client reads them.
func serveConsole(t *testing.T, packets [][]byte) (addr string, commands func() []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var cmds []string
	done := make(chan struct{})
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})

	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\n" {
				_, _ = conn.Write([]byte("\n\r"))
				continue
			}
			mu.Lock()
			cmds = append(cmds, line[:len(line)-1])
			mu.Unlock()
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "LPS 2 "), "\n"))
			if err != nil || len(packets) == 0 {
				continue
			}
			reply := []byte{station.ACK}
			for ; n > 0 && len(packets) > 0; n-- {
				reply = append(reply, packets[0]...)
				packets = packets[1:]
			}
			_, _ = conn.Write(reply)
		}
	}()

	return ln.Addr().String(), func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), cmds...)
	}
}

func testStationLinks(addr string) LinkFactory {
	return StationLinks(station.Config{
		Address:       addr,
		WakeupTimeout: 200 * time.Millisecond,
		ReadTimeout:   time.Second,
		DrainTimeout:  30 * time.Millisecond,
	}, nil)
}

// streamed is what the console sends for the cycle's opening multi-packet
// request; none of it may surface as a reading.
var streamed = loop2Packet(999, 99, 99, 99, 99, 99)

func TestCycle_Run_StationOverTCP(t *testing.T) {
	addr, commands := serveConsole(t, [][]byte{
		streamed,
		streamed,
		loop2Packet(675, 5, 180, 9, 200, 40),
		loop2Packet(-12, 0, 0, 0, 0, 95),
	})
	c, err := NewCycle(testStationLinks(addr), 2, nil)
	require.NoError(t, err)
	sink := &collectSink{}

	res := c.Run(context.Background(), sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 1, res.Suppressed)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "67.5", sink.got[0].OutsideTemperature)
	assert.Equal(t, 180, sink.got[0].WindDirectionDegrees)
	assert.Equal(t, 40, sink.got[0].OutsideHumidity)
	assert.Equal(t, []string{"LPS 2 2", "LPS 2 1", "LPS 2 1"}, commands())
}

// TestCycle_Run_StationOverTCP_SingleReading runs the default one-reading
// cycle, where the opening request is itself "LPS 2 1" and is answered.
func TestCycle_Run_StationOverTCP_SingleReading(t *testing.T) {
	addr, commands := serveConsole(t, [][]byte{
		streamed,
		loop2Packet(675, 5, 180, 9, 200, 40),
	})
	c, err := NewCycle(testStationLinks(addr), 1, nil)
	require.NoError(t, err)
	sink := &collectSink{}

	res := c.Run(context.Background(), sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Received)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "67.5", sink.got[0].OutsideTemperature)
	assert.Equal(t, 5, sink.got[0].WindSpeedMph)
	assert.Equal(t, []string{"LPS 2 1", "LPS 2 1"}, commands())
}

func TestCycle_Run_StationRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := NewCycle(StationLinks(station.Config{Address: addr, ConnectTimeout: time.Second}, nil), 1, nil)
	require.NoError(t, err)

	res := c.Run(context.Background(), &collectSink{})
	require.ErrorIs(t, res.Err, station.ErrConnect)
	assert.Equal(t, station.ErrorCategoryConnect, station.CategorizeError(res.Err))
}
