package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"lora-gateway/internal/cloud"
	"lora-gateway/internal/node"
	"lora-gateway/internal/serial"
)

type readResult struct {
	line string
	ok   bool
	err  error
}

type fakePort struct {
	reads    []readResult
	written  []node.Directive
	writeErr error
}

func (p *fakePort) ReadLine() (string, bool, error) {
	if len(p.reads) == 0 {
		return "", false, nil
	}
	r := p.reads[0]
	p.reads = p.reads[1:]
	return r.line, r.ok, r.err
}

func (p *fakePort) WriteDirective(d node.Directive) error {
	if p.writeErr != nil {
		return p.writeErr
	}
	p.written = append(p.written, d)
	return nil
}

type pollResult struct {
	value string
	found bool
	err   error
}

type fakeCloud struct {
	published  []node.SensorReading
	publishErr error

	polls    int
	pollWith pollResult
}

func (c *fakeCloud) Publish(_ context.Context, r node.SensorReading) error {
	c.published = append(c.published, r)
	return c.publishErr
}

func (c *fakeCloud) PollCommand(context.Context) (string, bool, error) {
	c.polls++
	return c.pollWith.value, c.pollWith.found, c.pollWith.err
}

type fakeJournal struct {
	readings   []node.SensorReading
	publishErr []error
	directives []node.Directive
	err        error
}

func (j *fakeJournal) RecordReading(_ context.Context, r node.SensorReading, _ time.Time, publishErr error) error {
	j.readings = append(j.readings, r)
	j.publishErr = append(j.publishErr, publishErr)
	return j.err
}

func (j *fakeJournal) RecordDirective(_ context.Context, _ string, d node.Directive, _ time.Time) error {
	j.directives = append(j.directives, d)
	return j.err
}

type fakeMirror struct {
	readings   int
	directives []node.Directive
}

func (m *fakeMirror) PublishReading(node.SensorReading, time.Time) error {
	m.readings++
	return errors.New("not connected")
}

func (m *fakeMirror) PublishDirective(d node.Directive, _ time.Time) error {
	m.directives = append(m.directives, d)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGateway(port Port, cl Cloud, clock *fakeClock, opts Options) *Gateway {
	opts.Now = clock.Now
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(port, cl, opts)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func TestStep_PublishesDecodedReading(t *testing.T) {
	port := &fakePort{reads: []readResult{{line: `{"temp": 22.5, "humidity": 60, "sprinkler": false}`, ok: true}}}
	cl := &fakeCloud{}
	g := newTestGateway(port, cl, newClock(), Options{})

	if err := g.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if len(cl.published) != 1 {
		t.Fatalf("published = %d, want 1", len(cl.published))
	}
	want := node.SensorReading{Temperature: 22.5, Humidity: 60, SprinklerOn: false}
	if cl.published[0] != want {
		t.Errorf("published %+v, want %+v", cl.published[0], want)
	}
}

func TestStep_MalformedLineNotPublished(t *testing.T) {
	port := &fakePort{reads: []readResult{{line: `{"temp": 22.5}`, ok: true}}}
	cl := &fakeCloud{}
	j := &fakeJournal{}
	g := newTestGateway(port, cl, newClock(), Options{Journal: j})

	if err := g.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v, want malformed line absorbed", err)
	}
	if len(cl.published) != 0 {
		t.Errorf("published = %d, want 0", len(cl.published))
	}
	if len(j.readings) != 0 {
		t.Errorf("journal readings = %d, want 0", len(j.readings))
	}
	if cl.polls != 1 {
		t.Errorf("polls = %d, want the iteration to continue to the poll", cl.polls)
	}
}

func TestStep_NoDataStillPolls(t *testing.T) {
	cl := &fakeCloud{}
	g := newTestGateway(&fakePort{}, cl, newClock(), Options{})

	if err := g.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if len(cl.published) != 0 {
		t.Errorf("published = %d, want 0", len(cl.published))
	}
	if cl.polls != 1 {
		t.Errorf("polls = %d, want 1 on the first iteration", cl.polls)
	}
}

func TestStep_PollsAtMostOncePerInterval(t *testing.T) {
	clock := newClock()
	cl := &fakeCloud{}
	g := newTestGateway(&fakePort{}, cl, clock, Options{PollInterval: 15 * time.Second})
	ctx := context.Background()

	steps := []struct {
		advance   time.Duration
		wantPolls int
	}{
		{advance: 0, wantPolls: 1},
		{advance: 100 * time.Millisecond, wantPolls: 1},
		{advance: 5 * time.Second, wantPolls: 1},
		{advance: 9900 * time.Millisecond, wantPolls: 2}, // exactly 15s since the first poll
		{advance: 14 * time.Second, wantPolls: 2},
		{advance: time.Second, wantPolls: 3},
	}

	for i, s := range steps {
		clock.Advance(s.advance)
		if err := g.Step(ctx); err != nil {
			t.Fatalf("step %d: Step() error = %v", i, err)
		}
		if cl.polls != s.wantPolls {
			t.Fatalf("step %d: polls = %d, want %d", i, cl.polls, s.wantPolls)
		}
	}
}

func TestStep_FailedPollStillResetsTimer(t *testing.T) {
	clock := newClock()
	cl := &fakeCloud{pollWith: pollResult{err: &cloud.PollError{StatusCode: 500}}}
	g := newTestGateway(&fakePort{}, cl, clock, Options{PollInterval: 15 * time.Second})

	_ = g.Step(context.Background())
	clock.Advance(time.Second)
	_ = g.Step(context.Background())

	if cl.polls != 1 {
		t.Errorf("polls = %d, want 1 (failed poll counts as attempted)", cl.polls)
	}
}

func TestStep_CommandToDirective(t *testing.T) {
	tests := []struct {
		name string
		poll pollResult
		want []node.Directive
	}{
		{name: "on", poll: pollResult{value: "1", found: true}, want: []node.Directive{node.SprinklerOn}},
		{name: "off", poll: pollResult{value: "0", found: true}, want: []node.Directive{node.SprinklerOff}},
		{name: "unrecognised value", poll: pollResult{value: "2", found: true}},
		{name: "empty value", poll: pollResult{value: "", found: true}},
		{name: "no command", poll: pollResult{}},
		{name: "poll failed", poll: pollResult{err: &cloud.PollError{Err: errors.New("timeout")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			cl := &fakeCloud{pollWith: tt.poll}
			j := &fakeJournal{}
			m := &fakeMirror{}
			g := newTestGateway(port, cl, newClock(), Options{Journal: j, Mirror: m})

			if err := g.Step(context.Background()); err != nil {
				t.Fatalf("Step() error = %v", err)
			}
			if len(port.written) != len(tt.want) {
				t.Fatalf("written = %v, want %v", port.written, tt.want)
			}
			for i := range tt.want {
				if port.written[i] != tt.want[i] {
					t.Errorf("written[%d] = %q, want %q", i, port.written[i], tt.want[i])
				}
			}
			if len(j.directives) != len(tt.want) {
				t.Errorf("journal directives = %v, want %v", j.directives, tt.want)
			}
			if len(m.directives) != len(tt.want) {
				t.Errorf("mirror directives = %v, want %v", m.directives, tt.want)
			}
		})
	}
}

func TestStep_DirectiveResentEachPoll(t *testing.T) {
	clock := newClock()
	port := &fakePort{}
	cl := &fakeCloud{pollWith: pollResult{value: "1", found: true}}
	g := newTestGateway(port, cl, clock, Options{PollInterval: 15 * time.Second})

	_ = g.Step(context.Background())
	clock.Advance(15 * time.Second)
	_ = g.Step(context.Background())

	if len(port.written) != 2 {
		t.Errorf("written = %v, want the directive sent on both polls", port.written)
	}
}

func TestStep_DirectiveWriteFailureAbsorbed(t *testing.T) {
	port := &fakePort{writeErr: &serial.TransportError{Op: "write", Err: io.ErrClosedPipe}}
	cl := &fakeCloud{pollWith: pollResult{value: "0", found: true}}
	j := &fakeJournal{}
	g := newTestGateway(port, cl, newClock(), Options{Journal: j})

	if err := g.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v, want write failure absorbed", err)
	}
	if len(j.directives) != 0 {
		t.Errorf("journal recorded an unsent directive: %v", j.directives)
	}
}

func TestStep_PublishFailureContinues(t *testing.T) {
	port := &fakePort{reads: []readResult{
		{line: `{"temp": 1, "humidity": 2, "sprinkler": true}`, ok: true},
		{line: `{"temp": 3, "humidity": 4, "sprinkler": false}`, ok: true},
	}}
	pubErr := &cloud.PublishError{StatusCode: 500}
	cl := &fakeCloud{publishErr: pubErr}
	j := &fakeJournal{}
	g := newTestGateway(port, cl, newClock(), Options{Journal: j})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Step(ctx); err != nil {
			t.Fatalf("Step() error = %v, want publish failure absorbed", err)
		}
	}
	if len(cl.published) != 2 {
		t.Fatalf("publish attempts = %d, want one per reading", len(cl.published))
	}
	if len(j.publishErr) != 2 || !errors.Is(j.publishErr[0], pubErr) {
		t.Errorf("journal publish errors = %v, want the publish failure recorded", j.publishErr)
	}
}

func TestStep_TransportErrorReturned(t *testing.T) {
	readErr := &serial.TransportError{Op: "read", Err: io.ErrUnexpectedEOF}
	port := &fakePort{reads: []readResult{{err: readErr}}}
	cl := &fakeCloud{}
	g := newTestGateway(port, cl, newClock(), Options{})

	err := g.Step(context.Background())
	if !errors.Is(err, readErr) {
		t.Fatalf("Step() error = %v, want %v", err, readErr)
	}
	if cl.polls != 0 {
		t.Errorf("polls = %d, want the failed iteration to stop before polling", cl.polls)
	}
}

func TestStep_FrameErrorAbsorbed(t *testing.T) {
	port := &fakePort{reads: []readResult{{err: &serial.FrameError{Line: "abc*0000", Reason: "checksum mismatch"}}}}
	cl := &fakeCloud{}
	g := newTestGateway(port, cl, newClock(), Options{})

	if err := g.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v, want frame error absorbed", err)
	}
	if len(cl.published) != 0 {
		t.Errorf("published = %d, want 0", len(cl.published))
	}
}

func TestStep_SinkFailuresAbsorbed(t *testing.T) {
	port := &fakePort{reads: []readResult{{line: `{"temp": 1, "humidity": 2, "sprinkler": true}`, ok: true}}}
	cl := &fakeCloud{}
	j := &fakeJournal{err: errors.New("disk full")}
	m := &fakeMirror{}
	g := newTestGateway(port, cl, newClock(), Options{Journal: j, Mirror: m})

	if err := g.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if len(cl.published) != 1 || m.readings != 1 {
		t.Errorf("published = %d, mirrored = %d, want 1 and 1", len(cl.published), m.readings)
	}
}

func TestRun_PausesAndStops(t *testing.T) {
	port := &fakePort{reads: []readResult{
		{line: `{"temp": 1, "humidity": 2, "sprinkler": true}`, ok: true},
		{err: &serial.TransportError{Op: "read", Err: io.ErrUnexpectedEOF}},
		{},
	}}
	cl := &fakeCloud{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pauses []time.Duration
	opts := Options{
		LoopInterval: 100 * time.Millisecond,
		ErrorPause:   time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			if len(pauses) == 3 {
				cancel()
			}
			return ctx.Err()
		},
	}
	g := newTestGateway(port, cl, newClock(), opts)

	err := g.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}

	want := []time.Duration{100 * time.Millisecond, time.Second, 100 * time.Millisecond}
	if len(pauses) != len(want) {
		t.Fatalf("pauses = %v, want %v", pauses, want)
	}
	for i := range want {
		if pauses[i] != want[i] {
			t.Errorf("pause[%d] = %v, want %v", i, pauses[i], want[i])
		}
	}
	if len(cl.published) != 1 {
		t.Errorf("published = %d, want 1", len(cl.published))
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepCtx() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepCtx() error = %v, want context.Canceled", err)
	}
}
