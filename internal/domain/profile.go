package domain

// Profile is the cached copy of a per-user profile document. Extra holds
// fields the engine does not interpret but must not drop on merge.
type Profile struct {
	UID         string         `json:"uid"`
	DisplayName string         `json:"displayName,omitempty"`
	Name        string         `json:"name,omitempty"`
	PhotoURL    string         `json:"photoURL,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Merge shallow-merges a partial profile document into the receiver and
// reports whether an identity field (displayName, name, photoURL) changed.
// Non-identity updates merge silently so dependents are not re-rendered for
// unrelated fields. Merge never deletes fields the doc does not mention.
func (p *Profile) Merge(doc RawDoc) bool {
	identity := false
	for k, v := range doc {
		switch k {
		case "uid":
			if s, ok := v.(string); ok && s != "" {
				p.UID = s
			}
		case "displayName":
			if s, ok := v.(string); ok && s != p.DisplayName {
				p.DisplayName = s
				identity = true
			}
		case "name":
			if s, ok := v.(string); ok && s != p.Name {
				p.Name = s
				identity = true
			}
		case "photoURL":
			if s, ok := v.(string); ok && s != p.PhotoURL {
				p.PhotoURL = s
				identity = true
			}
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = v
		}
	}
	return identity
}

// BestName picks the display name for rendering, falling back across fields.
func (p *Profile) BestName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Name != "" {
		return p.Name
	}
	return "Unknown User"
}
