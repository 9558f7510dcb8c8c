// internal/scope/frame.go
package scope

import (
	"time"

	"scope-service/internal/model"
	"scope-service/pkg/waveform"
)

// Frame is one screen update delivered by the poll loop
type Frame struct {
	Sequence      uint64              `json:"sequence"`
	Time          time.Time           `json:"time"`
	TriggerStatus model.TriggerStatus `json:"trigger_status"`

	// Waveform is nil when no channel is displayed
	Waveform *waveform.Buffer `json:"waveform,omitempty"`

	// Decode is set while the protocol decoder overlay is shown
	Decode *model.DecodeSettings `json:"decode,omitempty"`

	// Record is set while waveform recording or replay is active
	Record *model.RecordSettings `json:"record,omitempty"`
}

// Cleared reports whether the frame carries no waveform
func (f *Frame) Cleared() bool {
	return f.Waveform == nil || len(f.Waveform.Channels) == 0
}
