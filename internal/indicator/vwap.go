package indicator

import (
	"time"

	"oibot/internal/model"
)

// VWAP calculates the session-anchored Volume Weighted Average Price:
// cumulative typical-price×volume over cumulative volume since the start of
// the current session. The accumulators reset when a bar's close time
// crosses the configured daily session boundary (UTC).
type VWAP struct {
	boundary   time.Duration // offset from UTC midnight of the session start
	sessionDay time.Time     // start of the session the accumulators belong to
	cumPV      float64
	cumVol     float64
}

// NewVWAP creates a session-anchored VWAP. boundary is the session start as
// an offset from UTC midnight (0 anchors at 00:00 UTC).
func NewVWAP(boundary time.Duration) *VWAP {
	return &VWAP{boundary: boundary}
}

func (v *VWAP) Name() string { return "VWAP" }

// sessionStart returns the start of the session containing ts.
func (v *VWAP) sessionStart(ts time.Time) time.Time {
	day := ts.UTC().Truncate(24 * time.Hour).Add(v.boundary)
	if ts.Before(day) {
		day = day.Add(-24 * time.Hour)
	}
	return day
}

func (v *VWAP) Update(k model.Kline) {
	start := v.sessionStart(k.CloseTime)
	if !start.Equal(v.sessionDay) {
		// New session; anchor resets
		v.sessionDay = start
		v.cumPV = 0
		v.cumVol = 0
	}

	typical := (k.High + k.Low + k.Close) / 3.0
	v.cumPV += typical * k.Volume
	v.cumVol += k.Volume
}

func (v *VWAP) Value() float64 {
	if v.cumVol == 0 {
		return 0
	}
	return v.cumPV / v.cumVol
}

// Ready reports whether any volume has accumulated this session.
func (v *VWAP) Ready() bool { return v.cumVol > 0 }

func (v *VWAP) Reset() {
	v.sessionDay = time.Time{}
	v.cumPV = 0
	v.cumVol = 0
}

// Snapshot serializes the VWAP state for checkpoint persistence.
func (v *VWAP) Snapshot() VWAPState {
	return VWAPState{
		BoundarySec: int64(v.boundary / time.Second),
		SessionDay:  v.sessionDay,
		CumPV:       v.cumPV,
		CumVol:      v.cumVol,
	}
}

// Restore loads VWAP state from a checkpoint.
func (v *VWAP) Restore(s VWAPState) {
	v.boundary = time.Duration(s.BoundarySec) * time.Second
	v.sessionDay = s.SessionDay
	v.cumPV = s.CumPV
	v.cumVol = s.CumVol
}

// VWAPState is the serialized state of a session VWAP.
type VWAPState struct {
	BoundarySec int64     `json:"boundary_sec"`
	SessionDay  time.Time `json:"session_day"`
	CumPV       float64   `json:"cum_pv"`
	CumVol      float64   `json:"cum_vol"`
}
