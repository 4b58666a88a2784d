package model

// Result is the apply layer's outcome record for one change.
//
// Exactly one of the id fields is populated for an executed creator;
// skipped results carry a free-text Reason and optionally a ReasonCode.
type Result struct {
	Op           string `json:"op"`
	TempID       string `json:"tempId,omitempty"`
	RealID       string `json:"realId,omitempty"`
	VisualID     string `json:"visualId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	NoteID       string `json:"noteId,omitempty"`
	GroupID      string `json:"groupId,omitempty"`
	ViewID       string `json:"viewId,omitempty"`
	FolderID     string `json:"folderId,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ReasonCode   string `json:"reasonCode,omitempty"`
}

// ResolvedID returns the real id assigned for this result, checking the id
// fields in a fixed order.
func (r Result) ResolvedID() string {
	for _, id := range []string{
		r.RealID,
		r.VisualID,
		r.ConnectionID,
		r.NoteID,
		r.GroupID,
		r.ViewID,
		r.FolderID,
	} {
		if id != "" {
			return id
		}
	}
	return ""
}
