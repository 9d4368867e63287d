package script

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/luxd/internal/profile"
)

// Hook function names scripts may define at global scope.
const (
	hookOnEstimate   = "on_estimate"
	hookOnCalibrated = "on_calibrated"
)

// OnEstimate invokes the script's on_estimate(room, lux) hook, if defined
func (r *Runtime) OnEstimate(ctx context.Context, room string, lux float64) {
	r.Do(ctx, func(ctx context.Context) {
		fn := r.L.GetGlobal(hookOnEstimate)
		if fn == lua.LNil {
			return
		}
		err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			lua.LString(room), lua.LNumber(lux))
		if err != nil {
			log.Error().Err(err).Str("hook", hookOnEstimate).Msg("Lua hook failed")
		}
	})
}

// OnCalibrated invokes the script's on_calibrated(room, profile) hook with
// the completed calibration profile as a table, if defined.
func (r *Runtime) OnCalibrated(ctx context.Context, room string, p *profile.Profile) {
	r.Do(ctx, func(ctx context.Context) {
		fn := r.L.GetGlobal(hookOnCalibrated)
		if fn == lua.LNil {
			return
		}
		err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			lua.LString(room), profileToTable(r.L, p))
		if err != nil {
			log.Error().Err(err).Str("hook", hookOnCalibrated).Msg("Lua hook failed")
		}
	})
}

// profileToTable converts a calibration profile to a Lua table
func profileToTable(L *lua.LState, p *profile.Profile) *lua.LTable {
	tbl := L.NewTable()
	if p == nil {
		return tbl
	}

	L.SetField(tbl, "room", lua.LString(p.Room))
	L.SetField(tbl, "sensor", lua.LString(p.Sensor))
	L.SetField(tbl, "min_lux", lua.LNumber(p.MinLux))
	L.SetField(tbl, "max_lux", lua.LNumber(p.MaxLux))
	L.SetField(tbl, "settle_time_seconds", lua.LNumber(p.SettleTimeSeconds))

	contribs := L.NewTable()
	for id, c := range p.Contributions {
		entry := L.NewTable()
		L.SetField(entry, "max_contribution", lua.LNumber(c.MaxContribution))
		L.SetField(entry, "linear_validated", lua.LBool(c.LinearValidated))
		L.SetField(contribs, id, entry)
	}
	L.SetField(tbl, "light_contributions", contribs)

	excluded := L.NewTable()
	for i, id := range p.ExcludedLights {
		excluded.RawSetInt(i+1, lua.LString(id))
	}
	L.SetField(tbl, "excluded_lights", excluded)

	return tbl
}
