package api

// validatePacketSamples checks the body of POST /packet: a nonempty array
// of samples, each with a known deviceId, all sharing one deviceId.
// Numeric timestamp/loudnessDb types are enforced earlier when readJSON
// decodes into float64; a missing field decodes as 0 and is not rejected.
// Returns an error message (empty on success).
func validatePacketSamples(samples []rawSample, knownListener func(string) bool) string {
	if len(samples) == 0 {
		return "body must be a nonempty array of samples"
	}

	deviceID := samples[0].DeviceID
	for _, s := range samples {
		if s.DeviceID == "" {
			return "deviceId is required"
		}
		if !knownListener(s.DeviceID) {
			return "unknown deviceId: " + s.DeviceID
		}
		if s.DeviceID != deviceID {
			return "all samples in one packet must share a single deviceId"
		}
	}
	return ""
}
