package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/luxd/internal/profile"
)

func loadTestScript(t *testing.T, r *Runtime, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.lua")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := r.LoadScript(path); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
}

// readGlobals reads Lua globals through the work queue, after any queued
// hook invocations have run.
func readGlobals(t *testing.T, ctx context.Context, r *Runtime, read func(L *lua.LState)) {
	t.Helper()
	done := make(chan struct{})
	if !r.Do(ctx, func(context.Context) {
		read(r.L)
		close(done)
	}) {
		t.Fatal("work queue rejected read")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Lua worker never executed read")
	}
}

func TestOnEstimateHook(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	loadTestScript(t, r, `
seen = {}
function on_estimate(room, lux)
  seen.room = room
  seen.lux = lux
end
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.OnEstimate(ctx, "office", 42.5)

	readGlobals(t, ctx, r, func(L *lua.LState) {
		seen := L.GetGlobal("seen").(*lua.LTable)
		if room := L.GetField(seen, "room").String(); room != "office" {
			t.Errorf("room = %q, want office", room)
		}
		if lux := L.GetField(seen, "lux").String(); lux != "42.5" {
			t.Errorf("lux = %q, want 42.5", lux)
		}
	})
}

func TestOnCalibratedHook(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	loadTestScript(t, r, `
result = nil
function on_calibrated(room, p)
  result = {
    room = room,
    max_lux = p.max_lux,
    lights = 0,
  }
  for _ in pairs(p.light_contributions) do
    result.lights = result.lights + 1
  end
end
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.OnCalibrated(ctx, "office", &profile.Profile{
		Room:   "office",
		MaxLux: 89,
		Contributions: map[string]profile.Contribution{
			"1": {MaxContribution: 50},
			"2": {MaxContribution: 30},
		},
	})

	readGlobals(t, ctx, r, func(L *lua.LState) {
		result, ok := L.GetGlobal("result").(*lua.LTable)
		if !ok {
			t.Fatal("on_calibrated never ran")
		}
		if room := L.GetField(result, "room").String(); room != "office" {
			t.Errorf("room = %q, want office", room)
		}
		if maxLux := L.GetField(result, "max_lux").String(); maxLux != "89" {
			t.Errorf("max_lux = %q, want 89", maxLux)
		}
		if lights := L.GetField(result, "lights").String(); lights != "2" {
			t.Errorf("lights = %q, want 2", lights)
		}
	})
}

func TestMissingHookIsIgnored(t *testing.T) {
	r := NewRuntime()
	defer r.Close()
	loadTestScript(t, r, `-- no hooks defined`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Must not panic or error
	r.OnEstimate(ctx, "office", 1)
	r.OnCalibrated(ctx, "office", nil)

	readGlobals(t, ctx, r, func(*lua.LState) {})
}
