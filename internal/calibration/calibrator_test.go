package calibration

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/luxd/internal/device"
	"github.com/dokzlo13/luxd/internal/profile"
)

// fakeLight models a light with a known real-world contribution. Dead lights
// silently ignore commands, like an unplugged bulb still known to the bridge.
type fakeLight struct {
	state   device.LightState
	contrib float64
	dead    bool
}

type fakeDevice struct {
	mu        sync.Mutex
	ambient   float64
	lights    map[string]*fakeLight
	sensorErr error

	// When non-nil, ReadSensor blocks until the channel is closed
	sensorGate chan struct{}
}

func (f *fakeDevice) ReadSensor(ctx context.Context, sensorID string) (float64, error) {
	if f.sensorGate != nil {
		<-f.sensorGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sensorErr != nil {
		return 0, f.sensorErr
	}
	lux := f.ambient
	for _, l := range f.lights {
		if l.state.On {
			lux += l.contrib * float64(l.state.Brightness) / float64(device.FullBrightness)
		}
	}
	return lux, nil
}

func (f *fakeDevice) SetLight(ctx context.Context, lightID string, cmd device.LightCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lights[lightID]
	if !ok {
		return device.ErrLightNotFound
	}
	if l.dead {
		return nil
	}
	l.state.On = cmd.On
	if !cmd.On {
		return nil
	}
	if cmd.Brightness != nil {
		l.state.Brightness = *cmd.Brightness
	}
	if cmd.ColorTemp != nil {
		ct := *cmd.ColorTemp
		l.state.ColorTemp = &ct
	}
	if cmd.Hue != nil {
		h := *cmd.Hue
		l.state.Hue = &h
	}
	if cmd.Sat != nil {
		s := *cmd.Sat
		l.state.Sat = &s
	}
	if len(cmd.RGB) == 3 {
		l.state.RGB = append([]uint8(nil), cmd.RGB...)
	}
	if len(cmd.XY) == 2 {
		l.state.XY = append([]float32(nil), cmd.XY...)
	}
	return nil
}

func (f *fakeDevice) GetLightState(ctx context.Context, lightID string) (device.LightState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lights[lightID]
	if !ok {
		return device.LightState{}, device.ErrLightNotFound
	}
	return l.state, nil
}

func (f *fakeDevice) ListLights(ctx context.Context, room string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.lights))
	for id := range f.lights {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []*profile.Profile
	err   error
}

func (s *fakeSaver) Save(p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, p)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(ctx context.Context, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

func newTestCalibrator(dev *fakeDevice, saver Saver, notifier Notifier) *Calibrator {
	c := New("office", "sensor-1", dev, saver, notifier, nil, DefaultParams())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func waitTerminal(t *testing.T, c *Calibrator) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Status()
		if !st.Active && st.Phase.Terminal() {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("calibration did not reach a terminal phase, status: %+v", c.Status())
	return Status{}
}

func uint16Ptr(v uint16) *uint16 { return &v }

func TestCalibrationHappyPath(t *testing.T) {
	ct333 := uint16Ptr(333) // 3000 K
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{On: true, Reachable: true, Brightness: 200, ColorTemp: ct333}},
			"light-b": {contrib: 30, state: device.LightState{On: false, Reachable: true, Brightness: 120}},
			"light-c": {contrib: 4, state: device.LightState{On: false, Reachable: true, Brightness: 90}},
		},
	}
	saver := &fakeSaver{}
	notifier := &fakeNotifier{}
	c := newTestCalibrator(dev, saver, notifier)

	if err := c.Start(context.Background(), []string{"light-a", "light-b", "light-c"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitTerminal(t, c)
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed (err: %s)", st.Label, st.Err)
	}

	p := c.Profile()
	if p == nil {
		t.Fatal("no profile after successful calibration")
	}
	if len(p.Contributions) != 2 {
		t.Fatalf("contributions = %v, want light-a and light-b only", p.Contributions)
	}
	for id, want := range map[string]float64{"light-a": 50, "light-b": 30} {
		got, ok := p.Contributions[id]
		if !ok {
			t.Fatalf("missing contribution for %s", id)
		}
		if math.Abs(got.MaxContribution-want) > 0.01 {
			t.Errorf("%s contribution = %.2f, want %.2f", id, got.MaxContribution, want)
		}
		if !got.LinearValidated {
			t.Errorf("%s not linearly validated", id)
		}
	}
	if _, ok := p.Contributions["light-c"]; ok {
		t.Error("light-c below threshold should be discarded")
	}
	if p.MaxLux <= p.MinLux {
		t.Errorf("min/max = %.1f/%.1f, want max > min", p.MinLux, p.MaxLux)
	}
	if len(p.ExcludedLights) != 0 {
		t.Errorf("excluded = %v, want none", p.ExcludedLights)
	}

	pv, ok := p.ValidationResults[profile.PairKey("light-a", "light-b")]
	if !ok {
		t.Fatal("missing pair validation for light-a+light-b")
	}
	if !pv.Valid || pv.ErrorPercent > 1 {
		t.Errorf("pair validation = %+v, want valid with ~0%% error", pv)
	}

	if len(saver.saved) != 1 {
		t.Errorf("profile saved %d times, want 1", len(saver.saved))
	}
	if !notifier.has("Calibration Complete") {
		t.Errorf("missing completion notification, got %v", notifier.titles)
	}
}

func TestCalibrationRestoresInitialStates(t *testing.T) {
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{On: true, Reachable: true, Brightness: 200, ColorTemp: uint16Ptr(333)}},
			"light-b": {contrib: 30, state: device.LightState{On: false, Reachable: true, Brightness: 254}},
		},
	}
	c := newTestCalibrator(dev, &fakeSaver{}, nil)

	if err := c.Start(context.Background(), []string{"light-a", "light-b"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := waitTerminal(t, c); st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed (err: %s)", st.Label, st.Err)
	}

	a := dev.lights["light-a"].state
	if !a.On || a.Brightness != 200 || a.ColorTemp == nil || *a.ColorTemp != 333 {
		t.Errorf("light-a not restored: %+v", a)
	}
	if dev.lights["light-b"].state.On {
		t.Error("light-b should be restored to off")
	}
}

func TestStartWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	dev := &fakeDevice{
		ambient:    5,
		sensorGate: gate,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{Reachable: true}},
		},
	}
	c := newTestCalibrator(dev, &fakeSaver{}, nil)

	if err := c.Start(context.Background(), []string{"light-a"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background(), []string{"light-a"}); err != ErrAlreadyRunning {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	close(gate)
	waitTerminal(t, c)

	// Mutual exclusion releases after the run terminates
	dev.sensorGate = nil
	if err := c.Start(context.Background(), []string{"light-a"}); err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
	waitTerminal(t, c)
}

func TestStopWithoutRun(t *testing.T) {
	c := newTestCalibrator(&fakeDevice{lights: map[string]*fakeLight{}}, nil, nil)
	if err := c.Stop(); err != ErrNotRunning {
		t.Fatalf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestStopDuringRun(t *testing.T) {
	gate := make(chan struct{})
	dev := &fakeDevice{
		ambient:    5,
		sensorGate: gate,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{On: true, Reachable: true, Brightness: 100}},
		},
	}
	notifier := &fakeNotifier{}
	c := newTestCalibrator(dev, &fakeSaver{}, notifier)

	if err := c.Start(context.Background(), []string{"light-a"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(gate)

	st := waitTerminal(t, c)
	if st.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", st.Label)
	}
	if c.Profile() != nil {
		t.Error("stopped run must not produce a profile")
	}
	if !notifier.has("Calibration Stopped") {
		t.Errorf("missing stop notification, got %v", notifier.titles)
	}
	a := dev.lights["light-a"].state
	if !a.On || a.Brightness != 100 {
		t.Errorf("light-a not restored after stop: %+v", a)
	}
}

func TestSensorFailureFailsRun(t *testing.T) {
	dev := &fakeDevice{
		sensorErr: device.ErrSensorUnavailable,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{Reachable: true}},
		},
	}
	notifier := &fakeNotifier{}
	c := newTestCalibrator(dev, &fakeSaver{}, notifier)

	if err := c.Start(context.Background(), []string{"light-a"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitTerminal(t, c)
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", st.Label)
	}
	if !strings.Contains(st.Err, "sensor") {
		t.Errorf("error = %q, want sensor failure detail", st.Err)
	}
	if !notifier.has("Calibration Failed") {
		t.Errorf("missing failure notification, got %v", notifier.titles)
	}
}

func TestInvalidRangeFailsRun(t *testing.T) {
	// Lights that produce no light at all leave max equal to min
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 0, state: device.LightState{Reachable: true}},
		},
	}
	c := newTestCalibrator(dev, &fakeSaver{}, nil)

	if err := c.Start(context.Background(), []string{"light-a"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitTerminal(t, c)
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", st.Label)
	}
	if !strings.Contains(st.Err, "max lux") {
		t.Errorf("error = %q, want range failure detail", st.Err)
	}
}

func TestNoSignificantContributionFailsRun(t *testing.T) {
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 3, state: device.LightState{Reachable: true}},
			"light-b": {contrib: 3, state: device.LightState{Reachable: true}},
		},
	}
	c := newTestCalibrator(dev, &fakeSaver{}, nil)

	if err := c.Start(context.Background(), []string{"light-a", "light-b"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitTerminal(t, c)
	if st.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", st.Label)
	}
	if !strings.Contains(st.Err, "significant") {
		t.Errorf("error = %q, want contribution failure detail", st.Err)
	}
}

func TestUnresponsiveLightExcluded(t *testing.T) {
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{Reachable: true}},
			"light-b": {contrib: 30, dead: true, state: device.LightState{Reachable: true}},
		},
	}
	c := newTestCalibrator(dev, &fakeSaver{}, nil)

	if err := c.Start(context.Background(), []string{"light-a", "light-b"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := waitTerminal(t, c)
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed (err: %s)", st.Label, st.Err)
	}

	p := c.Profile()
	if len(p.ExcludedLights) != 1 || p.ExcludedLights[0] != "light-b" {
		t.Errorf("excluded = %v, want [light-b]", p.ExcludedLights)
	}
	if _, ok := p.Contributions["light-b"]; ok {
		t.Error("excluded light must not keep a contribution")
	}
	if _, ok := p.Contributions["light-a"]; !ok {
		t.Error("responsive light should keep its contribution")
	}
}

func TestRunSurvivesCallerContextCancel(t *testing.T) {
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 50, state: device.LightState{On: true, Reachable: true, Brightness: 180}},
		},
	}
	c := newTestCalibrator(dev, &fakeSaver{}, nil)
	// Honor cancellation the way the real sleep does, without waiting
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx, []string{"light-a"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// An HTTP start handler returns right after accepting the run, and
	// net/http cancels its request context
	cancel()

	st := waitTerminal(t, c)
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed (err: %s)", st.Label, st.Err)
	}
	a := dev.lights["light-a"].state
	if !a.On || a.Brightness != 180 {
		t.Errorf("light-a not restored after caller cancellation: %+v", a)
	}
}

func TestStartWithNoLights(t *testing.T) {
	c := newTestCalibrator(&fakeDevice{lights: map[string]*fakeLight{}}, nil, nil)
	if err := c.Start(context.Background(), nil); err == nil {
		t.Fatal("Start with no lights should fail")
	}
	// The failed Start must not leave the run flag stuck
	if c.Status().Active {
		t.Error("calibrator stuck active after rejected Start")
	}
}

func TestEstimateFromLiveStates(t *testing.T) {
	dev := &fakeDevice{
		ambient: 5,
		lights: map[string]*fakeLight{
			"light-a": {contrib: 60, state: device.LightState{On: true, Reachable: true, Brightness: 128}},
			"light-b": {contrib: 30, state: device.LightState{On: false, Reachable: true, Brightness: 255}},
		},
	}
	c := newTestCalibrator(dev, nil, nil)

	if _, ok := c.Estimate(context.Background()); ok {
		t.Fatal("Estimate should report no data before calibration")
	}

	c.SetProfile(&profile.Profile{
		Room:   "office",
		MinLux: 20,
		MaxLux: 120,
		Contributions: map[string]profile.Contribution{
			"light-a": {MaxContribution: 60},
			"light-b": {MaxContribution: 30},
		},
	})

	got, ok := c.Estimate(context.Background())
	if !ok {
		t.Fatal("Estimate should succeed with a profile installed")
	}
	want := math.Round(60*128.0/255.0*10) / 10
	if got != want {
		t.Errorf("estimate = %.1f, want %.1f", got, want)
	}

	// Same inputs, same answer
	again, _ := c.Estimate(context.Background())
	if again != got {
		t.Errorf("estimate not idempotent: %.1f then %.1f", got, again)
	}
}
