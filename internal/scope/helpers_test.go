// internal/scope/helpers_test.go
package scope

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"scope-service/internal/model"
	"scope-service/internal/protocol/protocoltest"
	"scope-service/internal/scpi"
)

const ds1104zIDN = protocoltest.DS1104ZIDN

func ds1104zScript() map[string]string { return protocoltest.DS1104Z() }

func block(payload []byte) string { return protocoltest.Block(payload) }

func newScriptFake(script map[string]string) *protocoltest.Fake {
	return protocoltest.Scripted(script)
}

func newTestSession(t *testing.T, fake *protocoltest.Fake) *scpi.Session {
	t.Helper()
	if err := fake.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	return scpi.NewSession(fake, scpi.WithSettleDelay(0), scpi.WithLogger(zaptest.NewLogger(t)))
}

// ds1104zSettings is an unsynchronised snapshot bound to a DS1104Z
func ds1104zSettings() model.Settings {
	var st model.Settings
	st.Reset()
	st.Model = "DS1104Z"
	st.Serial = "DS1ZA000000001"
	st.ChannelCount = 4
	st.Bandwidth = 100
	st.Series = 1
	st.HorDivisions = 12
	st.VertDivisions = 8
	return st
}

// displayed returns a bound DS1104Z snapshot with the given channels on
func displayed(channels ...int) model.Settings {
	st := ds1104zSettings()
	st.Bound = true
	for _, ch := range channels {
		st.Channels[ch].Display = true
		st.Channels[ch].Scale = 1
	}
	if len(channels) > 0 {
		st.ActiveChannel = channels[0]
	}
	st.Acquisition.SampleRate = 1e9
	return st
}

func lastWritten(fake *protocoltest.Fake, n int) []string {
	w := fake.Written()
	if len(w) < n {
		return w
	}
	return w[len(w)-n:]
}
