package domain

// UploadScope names the viewer surface a pending upload belongs to.
type UploadScope string

const (
	ScopeChannel        UploadScope = "channel"
	ScopeThread         UploadScope = "thread"
	ScopeFloatingThread UploadScope = "floating-thread"
)

// PendingUpload is the ephemeral optimistic entry shown while a transfer is
// in flight. Progress is in [0,1]. PreviewURL, when set, is a revocable
// handle that must be released when the entry is removed.
type PendingUpload struct {
	ID          string      `json:"id"`
	UID         string      `json:"uid"`
	Scope       UploadScope `json:"scope"`
	Name        string      `json:"name"`
	Size        int64       `json:"size"`
	ContentType string      `json:"contentType"`
	IsImage     bool        `json:"isImage"`
	Progress    float64     `json:"progress"`
	PreviewURL  string      `json:"previewUrl,omitempty"`
}
