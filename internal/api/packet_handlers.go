package api

import (
	"net/http"

	"github.com/flowpbx/flowpbx/internal/dispatcher"
	"github.com/flowpbx/flowpbx/internal/onset"
)

// rawSample is the wire shape of one sample in a POST /packet body.
type rawSample struct {
	DeviceID   string  `json:"deviceId"`
	Timestamp  float64 `json:"timestamp"`
	LoudnessDb float64 `json:"loudnessDb"`
}

// handlePacket implements POST /packet.
func (s *Server) handlePacket(w http.ResponseWriter, r *http.Request) {
	var samples []rawSample
	if msg := readJSON(r, &samples); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if msg := validatePacketSamples(samples, s.cfg.KnownListener); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	onsetSamples := make([]onset.Sample, len(samples))
	for i, rs := range samples {
		onsetSamples[i] = onset.Sample{
			ListenerID:  rs.DeviceID,
			TimestampMS: rs.Timestamp,
			Loudness:    rs.LoudnessDb,
		}
	}

	out := s.dispatcher.Dispatch(onsetSamples)
	writeJSON(w, http.StatusOK, outcomeResponse(out))
}

// outcomeResponse shapes a dispatcher Outcome into the exact JSON
// response contract for its mode and status.
func outcomeResponse(out dispatcher.Outcome) any {
	switch out.Status {
	case dispatcher.StatusNoClap:
		return map[string]any{
			"mode": out.Mode, "status": out.Status, "message": out.Message,
		}
	case dispatcher.StatusWaiting:
		return map[string]any{
			"mode": out.Mode, "status": out.Status,
			"reported": nonNil(out.Reported), "waiting": nonNil(out.Waiting),
			"round": out.Round, "targetRounds": out.TargetRounds,
			"message": out.Message,
		}
	case dispatcher.StatusRoundComplete:
		return map[string]any{
			"mode": out.Mode, "status": out.Status,
			"round": out.Round, "targetRounds": out.TargetRounds,
			"roundOffsets": out.RoundOffsets, "message": out.Message,
		}
	case dispatcher.StatusComplete:
		return map[string]any{
			"mode": out.Mode, "status": out.Status,
			"offsets": out.Offsets, "stdDevs": out.StdDevs, "rounds": out.Rounds,
			"message": out.Message,
		}
	case dispatcher.StatusPending:
		return map[string]any{
			"mode": out.Mode, "status": out.Status,
			"reportedDevices": nonNil(out.ReportedDevices), "waitingFor": nonNil(out.WaitingFor),
			"message": out.Message,
		}
	case dispatcher.StatusLocalized:
		return map[string]any{
			"mode": out.Mode, "status": out.Status, "event": out.Event,
		}
	case dispatcher.StatusRejected:
		return map[string]any{
			"mode": out.Mode, "status": out.Status, "message": out.Message, "event": out.Event,
		}
	default:
		return map[string]any{"mode": out.Mode, "status": out.Status, "message": out.Message}
	}
}

// nonNil turns a nil slice into an empty one so the wire response always
// carries a JSON array, never null, for these fields.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
