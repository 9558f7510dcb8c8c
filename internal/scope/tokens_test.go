// internal/scope/tokens_test.go
package scope

import (
	"testing"

	"scope-service/internal/model"
)

func TestTriggerTokenTables(t *testing.T) {
	if got := model.TriggerMode(triggerModeTokens["SLOP"]); got != model.TriggerModeSlope {
		t.Errorf("SLOP = %d, want %d", got, model.TriggerModeSlope)
	}
	if got := model.TriggerSlope(slopeTokens["RFAL"]); got != model.SlopeEither {
		t.Errorf("RFAL = %d, want %d", got, model.SlopeEither)
	}

	// every trigger mode token maps to its own mode
	seen := map[int]string{}
	for token, mode := range triggerModeTokens {
		if prev, ok := seen[mode]; ok {
			t.Errorf("%s and %s both map to %d", prev, token, mode)
		}
		seen[mode] = token
	}
	if len(seen) != int(model.TriggerSetupHold)+1 {
		t.Errorf("got %d trigger modes, want %d", len(seen), int(model.TriggerSetupHold)+1)
	}
}
