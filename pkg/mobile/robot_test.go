package mobile

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/geom"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/nav"
	"github.com/teslashibe/go-rover/pkg/protocol"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/world"
)

type recordingSink struct {
	types    []protocol.MessageType
	payloads []any
}

func (s *recordingSink) Send(t protocol.MessageType, payload any) {
	s.types = append(s.types, t)
	s.payloads = append(s.payloads, payload)
}

func (s *recordingSink) count(t protocol.MessageType) int {
	n := 0
	for _, got := range s.types {
		if got == t {
			n++
		}
	}
	return n
}

func (s *recordingSink) summary(t *testing.T) protocol.SummaryData {
	t.Helper()
	for i, got := range s.types {
		if got == protocol.TypeSummary {
			return s.payloads[i].(protocol.SummaryData)
		}
	}
	t.Fatal("no summary sent")
	return protocol.SummaryData{}
}

type scoper struct {
	sink            *recordingSink
	system, session string
}

func (s *scoper) For(system, session string) telemetry.Sink {
	s.system, s.session = system, session
	return s.sink
}

func openField() *world.Sim {
	return world.NewSim(world.SimConfig{Start: geom.Pose{}})
}

func quickConfig(goal geom.Vec2, d time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Goal = goal
	cfg.Duration = d
	cfg.NoiseStd = 0
	return cfg
}

func TestReachesGoalInOpenField(t *testing.T) {
	sc := &scoper{sink: &recordingSink{}}
	r, err := New(openField(), quickConfig(geom.V2(2, 0), 20*time.Second), WithTelemetry(sc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeGoal {
		t.Fatalf("Outcome = %v, want %v (goal distance %v)", res.Outcome, OutcomeGoal, res.GoalDistance)
	}
	if res.GoalDistance >= 0.3 {
		t.Errorf("GoalDistance = %v, want < 0.3", res.GoalDistance)
	}
	if res.Metrics.Collisions != 0 {
		t.Errorf("Collisions = %d, want 0", res.Metrics.Collisions)
	}
	if res.Metrics.Distance < 1.5 {
		t.Errorf("Distance = %v, want at least 1.5", res.Metrics.Distance)
	}
	if len(res.Trajectory) == 0 || len(res.Reference) != 51 {
		t.Errorf("trajectory %d points, reference %d points", len(res.Trajectory), len(res.Reference))
	}

	if sc.system != System || sc.session != res.Session {
		t.Errorf("sink scoped to %s/%s, want %s/%s", sc.system, sc.session, System, res.Session)
	}
	sum := sc.sink.summary(t)
	if sum.Outcome != string(OutcomeGoal) || sum.Ticks != res.Ticks {
		t.Errorf("summary = %+v", sum)
	}
	if got := sc.sink.count(protocol.TypeTrajectory); got != 1 {
		t.Errorf("trajectory messages = %d, want 1", got)
	}
}

func TestTimeout(t *testing.T) {
	r, err := New(openField(), quickConfig(geom.V2(100, 0), 500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeTimeout)
	}
	if res.Ticks != 120 {
		t.Errorf("Ticks = %d, want 120", res.Ticks)
	}
	if math.Abs(res.Time-0.5) > 1e-9 {
		t.Errorf("Time = %v, want 0.5", res.Time)
	}
}

func TestCanceled(t *testing.T) {
	r, err := New(openField(), quickConfig(geom.V2(2, 0), 10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCanceled || res.Ticks != 0 {
		t.Errorf("Outcome = %v after %d ticks, want canceled after 0", res.Outcome, res.Ticks)
	}
}

func TestFlushCadence(t *testing.T) {
	sink := &recordingSink{}
	cfg := quickConfig(geom.V2(100, 0), 250*time.Millisecond)
	cfg.FlushEvery = 10
	r, err := New(openField(), cfg, WithTelemetry(&scoper{sink: sink}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// 60 ticks: six periodic flushes and the final one
	tests := []struct {
		typ  protocol.MessageType
		want int
	}{
		{protocol.TypeMetrics, 7},
		{protocol.TypeTrajectory, 1},
		{protocol.TypeSummary, 1},
		{protocol.TypeState, 2},
	}
	for _, tt := range tests {
		if got := sink.count(tt.typ); got != tt.want {
			t.Errorf("%s messages = %d, want %d", tt.typ, got, tt.want)
		}
	}
	if last := sink.types[len(sink.types)-1]; last != protocol.TypeState {
		t.Errorf("last message = %s, want state", last)
	}
}

// bumper reports a contact with a non-ground body every tick.
type bumper struct {
	*world.Sim
}

func (b bumper) Contacts() ([]world.Contact, error) {
	return []world.Contact{{BodyA: 9, BodyB: world.GroundID}, {BodyA: 9, BodyB: 3}}, nil
}

func TestCollisionStartsEscape(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.NewCollector(reg)
	r, err := New(bumper{openField()}, quickConfig(geom.V2(2, 0), 250*time.Millisecond), WithCollector(col))
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Step(); err != nil {
		t.Fatal(err)
	}
	d := r.Decision()
	if d.Mode != nav.ModeEscape || d.Command.Linear >= 0 {
		t.Errorf("first tick: mode %v linear %v, want escape in reverse", d.Mode, d.Command.Linear)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// contact never clears; the debounce counts it once in 0.25 s
	if res.Metrics.Collisions != 1 {
		t.Errorf("Collisions = %d, want 1", res.Metrics.Collisions)
	}
	if res.Escapes != 1 {
		t.Errorf("Escapes = %d, want 1", res.Escapes)
	}
	if got := testutil.ToFloat64(col.Escapes.WithLabelValues(System, "collision")); got != 1 {
		t.Errorf("escapes_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(col.Ticks.WithLabelValues(System)); got != 60 {
		t.Errorf("ticks_total = %v, want 60", got)
	}
	if got := testutil.ToFloat64(col.Sessions.WithLabelValues(System, string(OutcomeTimeout))); got != 1 {
		t.Errorf("completed_total = %v, want 1", got)
	}
}

// flaky fails one physics step and records every velocity command.
type flaky struct {
	*world.Sim
	failAt   int
	steps    int
	commands [][2]float64
}

func (f *flaky) SetVelocity(linear, angular float64) error {
	f.commands = append(f.commands, [2]float64{linear, angular})
	return f.Sim.SetVelocity(linear, angular)
}

func (f *flaky) Step(dt float64) error {
	f.steps++
	if f.steps == f.failAt {
		return world.Recoverable("step", errors.New("solver hiccup"))
	}
	return f.Sim.Step(dt)
}

func TestRecoverableErrorStopsAndContinues(t *testing.T) {
	w := &flaky{Sim: openField(), failAt: 3}
	r, err := New(w, quickConfig(geom.V2(100, 0), 250*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout || res.Ticks != 60 {
		t.Errorf("Outcome = %v after %d ticks, want timeout after 60", res.Outcome, res.Ticks)
	}
	// third tick: drive command, then the stop after the failed step
	if got := w.commands[3]; got != [2]float64{0, 0} {
		t.Errorf("command after failure = %v, want stop", got)
	}
	if last := w.commands[len(w.commands)-1]; last != [2]float64{0, 0} {
		t.Errorf("final command = %v, want stop", last)
	}
}

// jammed fails one physics step and rejects the stop that follows it.
type jammed struct {
	flaky
	stopErrs int
}

func (j *jammed) SetVelocity(linear, angular float64) error {
	if j.steps == j.failAt && j.stopErrs == 0 && linear == 0 && angular == 0 {
		j.stopErrs++
		return world.Recoverable("set velocity", errors.New("motor driver busy"))
	}
	return j.flaky.SetVelocity(linear, angular)
}

func TestFailedStopIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf, "debug")
	t.Cleanup(func() { log.SetOutput(os.Stderr, "info") })

	w := &jammed{flaky: flaky{Sim: openField(), failAt: 3}}
	r, err := New(w, quickConfig(geom.V2(100, 0), 250*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout || res.Ticks != 60 {
		t.Errorf("Outcome = %v after %d ticks, want timeout after 60", res.Outcome, res.Ticks)
	}
	if w.stopErrs != 1 {
		t.Fatalf("rejected stops = %d, want 1", w.stopErrs)
	}
	out := buf.String()
	if !strings.Contains(out, "stop after world error failed") || !strings.Contains(out, "motor driver busy") {
		t.Errorf("log does not report the failed stop:\n%s", out)
	}
}

// unplugged closes the simulator after a number of steps.
type unplugged struct {
	*world.Sim
	after int
	steps int
}

func (u *unplugged) Step(dt float64) error {
	u.steps++
	if u.steps > u.after {
		u.Sim.Close()
	}
	return u.Sim.Step(dt)
}

func TestDisconnectEndsSession(t *testing.T) {
	sink := &recordingSink{}
	r, err := New(&unplugged{Sim: openField(), after: 5}, quickConfig(geom.V2(100, 0), 10*time.Second),
		WithTelemetry(&scoper{sink: sink}))
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Run(context.Background())
	if !world.IsFatal(err) || !errors.Is(err, world.ErrDisconnected) {
		t.Fatalf("Run error = %v, want fatal disconnect", err)
	}
	if res.Outcome != OutcomeDisconnected {
		t.Errorf("Outcome = %v, want %v", res.Outcome, OutcomeDisconnected)
	}
	if res.Ticks != 5 {
		t.Errorf("Ticks = %d, want 5", res.Ticks)
	}
	if sum := sink.summary(t); sum.Outcome != string(OutcomeDisconnected) {
		t.Errorf("summary outcome = %q", sum.Outcome)
	}
}

func TestSessionOverride(t *testing.T) {
	r, err := New(openField(), DefaultConfig(), WithSession("run-7"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Session() != "run-7" {
		t.Errorf("Session = %q, want run-7", r.Session())
	}
}

// collectingPublisher stores every published message.
type collectingPublisher struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (p *collectingPublisher) Name() string { return "collect" }

func (p *collectingPublisher) Publish(_ context.Context, msg *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestFinalTelemetrySurvivesRateLimit(t *testing.T) {
	pub := &collectingPublisher{}
	d := telemetry.NewDispatcher(pub, telemetry.DefaultConfig())

	// far goal: the run times out after more metrics flushes than the burst allows
	r, err := New(openField(), quickConfig(geom.V2(1000, 0), 30*time.Second), WithTelemetry(d))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, OutcomeTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.Stats().Dropped == 0 {
		t.Fatal("expected metrics flushes to be rate limited")
	}

	counts := map[protocol.MessageType]int{}
	var last *protocol.Message
	for _, msg := range pub.msgs {
		counts[msg.Type]++
		last = msg
	}
	if counts[protocol.TypeTrajectory] != 1 {
		t.Errorf("trajectory messages = %d, want 1", counts[protocol.TypeTrajectory])
	}
	if counts[protocol.TypeSummary] != 1 {
		t.Errorf("summary messages = %d, want 1", counts[protocol.TypeSummary])
	}
	if counts[protocol.TypeState] != 2 {
		t.Errorf("state messages = %d, want 2", counts[protocol.TypeState])
	}

	if last == nil || last.Type != protocol.TypeState {
		t.Fatalf("last message = %+v, want final state", last)
	}
	state, err := last.GetStateData()
	if err != nil {
		t.Fatalf("GetStateData: %v", err)
	}
	if state.Running || state.Detail != string(OutcomeTimeout) {
		t.Errorf("final state = %+v, want stopped with %q", state, OutcomeTimeout)
	}

	traj, err := pub.msgs[len(pub.msgs)-3].GetTrajectoryData()
	if err != nil {
		t.Fatalf("GetTrajectoryData: %v", err)
	}
	if len(traj.Actual) != len(res.Trajectory) {
		t.Errorf("trajectory points = %d, want %d", len(traj.Actual), len(res.Trajectory))
	}
}
