package capture

import (
	"github.com/kozaktomas/cin-capture/internal/record"
)

// Snapshot is a copy of the controller state for display. Mutating it has no effect on
// the controller.
type Snapshot struct {
	Step         Step                  `json:"step"`
	Recto        record.RawFieldSet    `json:"recto,omitempty"`
	Verso        record.RawFieldSet    `json:"verso,omitempty"`
	Combined     record.CombinedRecord `json:"combined,omitempty"`
	RectoImage   string                `json:"recto_image,omitempty"`
	VersoImage   string                `json:"verso_image,omitempty"`
	Portrait     string                `json:"portrait,omitempty"`
	Message      string                `json:"message,omitempty"`
	Error        string                `json:"error,omitempty"`
	Loading      bool                  `json:"loading"`
	JustSaved    bool                  `json:"just_saved"`
	SavedID      int64                 `json:"saved_id,omitempty"`
	VersoSkipped bool                  `json:"verso_skipped"`
}

// Snapshot returns the current state. It never blocks on an in-flight call.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Step:       c.state.step(),
		RectoImage: c.rectoPreview.DataURL(),
		VersoImage: c.versoPreview.DataURL(),
		Message:    c.message,
		Error:      c.errMessage,
		Loading:    c.busy,
		JustSaved:  c.justSaved,
	}
	if c.portrait != nil && c.portrait.Base64 != "" {
		snap.Portrait = "data:image/jpeg;base64," + c.portrait.Base64
	}
	if c.lastSave != nil {
		snap.SavedID = c.lastSave.DatabaseID
	}

	switch s := c.state.(type) {
	case stateVerso:
		snap.Recto = s.recto.fields.Clone()
	case stateEdit:
		snap.Recto = s.recto.fields.Clone()
		if s.verso != nil {
			snap.Verso = s.verso.fields.Clone()
		} else {
			snap.VersoSkipped = true
		}
		snap.Combined = s.combined.Clone()
	}
	return snap
}
