// internal/driver/compatibility.go
package driver

import (
	"fmt"

	"scope-service/internal/model"
)

// Classify returns the compatibility level of a resolved model and the
// warning to show the operator, empty when the model is fully supported.
// known is false when the capabilities came from BestEffort.
func Classify(caps Capabilities, known bool) (model.Compatibility, string) {
	if !known {
		return model.CompatibilityUnknownModel, fmt.Sprintf(
			"Unknown model %q. Capabilities were guessed from the model name. Proceed at your own risk.",
			caps.Model)
	}

	switch caps.Series {
	case 1, 6:
		return model.CompatibilitySupported, ""
	case 7:
		return model.CompatibilityExperimental,
			"Support for the DHO800/DHO900 series is experimental. Some settings may not be read or applied correctly."
	default:
		return model.CompatibilityUntested, fmt.Sprintf(
			"Unsupported device detected: %s. This software has been tested with the DS6000 and DS1000Z series only. Proceed at your own risk.",
			caps.Model)
	}
}

// NeedsConfirmation reports whether a human must accept the model before
// the session continues
func NeedsConfirmation(c model.Compatibility) bool {
	return c == model.CompatibilityUntested || c == model.CompatibilityUnknownModel
}
