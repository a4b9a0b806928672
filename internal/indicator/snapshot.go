package indicator

import (
	"encoding/json"
	"strings"
	"time"
)

// StreamState holds the serialized indicator states of one stream.
type StreamState struct {
	Key       string    `json:"key"` // "symbol:timeframe"
	LastClose time.Time `json:"last_close"`

	EMAFast EMAState  `json:"ema_fast"`
	EMAMid  EMAState  `json:"ema_mid"`
	EMASlow EMAState  `json:"ema_slow"`
	MACD    MACDState `json:"macd"`
	RSI     RSIState  `json:"rsi"`
	VWAP    VWAPState `json:"vwap"`
	ATR     ATRState  `json:"atr"`
}

// EngineState holds the full checkpoint of an indicator engine.
type EngineState struct {
	Version int           `json:"version"` // schema version for forward compat
	Streams []StreamState `json:"streams"`
}

// SnapshotEngine captures the full state of an indicator Engine as JSON.
func SnapshotEngine(e *Engine) ([]byte, error) {
	state := EngineState{Version: 1}
	for key, st := range e.streams {
		state.Streams = append(state.Streams, StreamState{
			Key:       key,
			LastClose: st.lastClose,
			EMAFast:   st.emaFast.Snapshot(),
			EMAMid:    st.emaMid.Snapshot(),
			EMASlow:   st.emaSlow.Snapshot(),
			MACD:      st.macd.Snapshot(),
			RSI:       st.rsi.Snapshot(),
			VWAP:      st.vwap.Snapshot(),
			ATR:       st.atr.Snapshot(),
		})
	}
	return json.Marshal(&state)
}

// RestoreEngine rebuilds an indicator Engine from a JSON checkpoint.
// Streams whose serialized periods no longer match the config are skipped
// and cold-start on their next bar.
func RestoreEngine(cfg Config, data []byte) (*Engine, error) {
	var state EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	e := NewEngine(cfg)
	for _, ss := range state.Streams {
		if ss.EMAFast.Period != cfg.EMAFast ||
			ss.EMAMid.Period != cfg.EMAMid ||
			ss.EMASlow.Period != cfg.EMASlow ||
			ss.RSI.Period != cfg.RSIPeriod {
			continue // config changed; cold start this stream
		}
		tf := ss.Key
		if i := strings.IndexByte(ss.Key, ':'); i >= 0 {
			tf = ss.Key[i+1:]
		}
		st := e.newStream(tf)
		st.lastClose = ss.LastClose
		st.emaFast.Restore(ss.EMAFast)
		st.emaMid.Restore(ss.EMAMid)
		st.emaSlow.Restore(ss.EMASlow)
		st.macd.Restore(ss.MACD)
		st.rsi.Restore(ss.RSI)
		st.vwap.Restore(ss.VWAP)
		st.atr.Restore(ss.ATR)
		e.streams[ss.Key] = st
	}
	return e, nil
}
