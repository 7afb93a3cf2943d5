package capture

import (
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// Step names the visible stage of the workflow.
type Step string

const (
	StepRecto Step = "recto"
	StepVerso Step = "verso"
	StepEdit  Step = "edit"
)

// state is one of stateRecto, stateVerso or stateEdit. Each variant carries only the data
// that is valid in that step.
type state interface {
	step() Step
}

// side is what was captured for one face of the card.
type side struct {
	fields record.RawFieldSet
	image  *upload.CapturedImage
}

type stateRecto struct{}

type stateVerso struct {
	recto side
}

type stateEdit struct {
	recto side
	// verso is nil when the operator skipped the back side.
	verso    *side
	combined record.CombinedRecord
}

func (stateRecto) step() Step { return StepRecto }
func (stateVerso) step() Step { return StepVerso }
func (stateEdit) step() Step  { return StepEdit }
