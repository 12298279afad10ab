package upstream

// analyzeRequestBody fills the request-side analysis fields of record from
// the pre-rewrite body: a rough input-token estimate, the number of
// attached images, and whether extended thinking was requested. The token
// estimate is replaced with the upstream-reported usage when the response
// reports any; it survives for requests that never complete and for
// responses that carry no usage.
func analyzeRequestBody(parsed map[string]any, record *RequestRecord) {
	if _, ok := parsed["thinking"]; ok {
		record.ReasonRequested = true
	}

	var chars int
	if sys, ok := parsed["system"].(string); ok {
		chars += len(sys)
	}
	messages, _ := parsed["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			chars += len(content)
		case []any:
			for _, item := range content {
				block, ok := item.(map[string]any)
				if !ok {
					continue
				}
				switch block["type"] {
				case "image":
					record.ImageCount++
				default:
					if s, ok := block["text"].(string); ok {
						chars += len(s)
					}
				}
			}
		}
	}

	// ~4 characters per token, the usual rough heuristic.
	record.InputTokens = chars / 4
}
