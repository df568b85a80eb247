package store

import "crewdeck/internal/domain"

// Raw-document helpers shared by the store implementations. The store keeps
// message documents duck-typed; these are the only mutations it performs on
// them (reactions and poll/form response maps are the mutable parts of an
// otherwise immutable message).

// DocID extracts the id of a raw record, "" when absent.
func DocID(doc domain.RawDoc) string {
	id, _ := doc["id"].(string)
	return id
}

// DocCreatedAt extracts the creation timestamp (unix millis) of a raw record.
func DocCreatedAt(doc domain.RawDoc) int64 {
	switch v := doc["createdAt"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// CloneDoc deep-copies a raw record.
func CloneDoc(doc domain.RawDoc) domain.RawDoc {
	out := make(domain.RawDoc, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// ToggleReactionDoc adds uid under emoji, or removes it if already present.
func ToggleReactionDoc(doc domain.RawDoc, emoji, uid string) {
	reactions, _ := doc["reactions"].(map[string]any)
	if reactions == nil {
		reactions = map[string]any{}
	}
	uids, _ := reactions[emoji].([]any)
	found := false
	next := make([]any, 0, len(uids))
	for _, u := range uids {
		if u == uid {
			found = true
			continue
		}
		next = append(next, u)
	}
	if !found {
		next = append(next, uid)
	}
	if len(next) == 0 {
		delete(reactions, emoji)
	} else {
		reactions[emoji] = next
	}
	doc["reactions"] = reactions
}

// SetVoteDoc records uid's vote for optionID. Last vote wins.
func SetVoteDoc(doc domain.RawDoc, optionID, uid string) {
	poll, _ := doc["poll"].(map[string]any)
	if poll == nil {
		return
	}
	votes, _ := poll["votes"].(map[string]any)
	if votes == nil {
		votes = map[string]any{}
	}
	votes[uid] = optionID
	poll["votes"] = votes
	doc["poll"] = poll
}

// SetFormResponseDoc records uid's form submission.
func SetFormResponseDoc(doc domain.RawDoc, uid string, values map[string]string) {
	form, _ := doc["form"].(map[string]any)
	if form == nil {
		return
	}
	responses, _ := form["responses"].(map[string]any)
	if responses == nil {
		responses = map[string]any{}
	}
	vs := map[string]any{}
	for k, v := range values {
		vs[k] = v
	}
	responses[uid] = vs
	form["responses"] = responses
	doc["form"] = form
}
