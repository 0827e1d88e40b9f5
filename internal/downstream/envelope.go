package downstream

type envelopeConfig struct {
	contextURL string
	vocabulary string
	agentID    string
}

// wrap builds the JSON-LD document attached to datasets:
//
//	{"@context": [<context>, {"@vocab": <vocab>}], "content": ..., "agent": {...}}
func (e envelopeConfig) wrap(content map[string]any) map[string]any {
	return map[string]any{
		"@context": []any{e.contextURL, map[string]any{"@vocab": e.vocabulary}},
		"content":  content,
		"agent": map[string]any{
			"@type":   "cat:user",
			"user_id": e.agentID,
		},
	}
}

// AttachedBy reports whether a metadata record was attached by agentID.
func AttachedBy(record map[string]any, agentID string) bool {
	agent, ok := record["agent"].(map[string]any)
	if !ok {
		return false
	}
	id, _ := agent["user_id"].(string)
	return id != "" && id == agentID
}
