package modelmap

import "encoding/json"

// RewriteResponseJSON parses a non-streaming response body, replaces
// $.model with guestModel, and re-serializes (reverse mapping,
// non-streaming path). If the upstream-reported model matches neither the guest's
// requested name nor what we expect, onMismatch is called with the
// upstream value so the caller can log a warning; the body is still passed
// through unchanged in that case, with a warning logged.
func RewriteResponseJSON(body []byte, guestModel, upstreamModel string, onMismatch func(upstreamReported string)) ([]byte, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body, err
	}

	reported, _ := parsed["model"].(string)
	if reported != upstreamModel && reported != guestModel {
		if onMismatch != nil {
			onMismatch(reported)
		}
		return body, nil
	}

	parsed["model"] = guestModel
	return json.Marshal(parsed)
}
