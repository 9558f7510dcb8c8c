// internal/utils/response_test.go
package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestErrorCode(t *testing.T) {
	cases := map[int]string{
		http.StatusNotFound:            "NOT_FOUND",
		http.StatusUnprocessableEntity: "INSTRUMENT_ERROR",
		http.StatusBadGateway:          "INSTRUMENT_UNREACHABLE",
		http.StatusGatewayTimeout:      "INSTRUMENT_TIMEOUT",
		http.StatusTeapot:              "UNKNOWN_ERROR",
	}
	for status, want := range cases {
		if got := ErrorCode(status); got != want {
			t.Errorf("ErrorCode(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	ErrorResponse(c, http.StatusGatewayTimeout, "Instrument did not answer", errors.New("read timeout"))

	var env APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusGatewayTimeout || env.Success {
		t.Fatalf("status = %d success = %v", w.Code, env.Success)
	}
	if env.RequestID != "req-1" || env.Error == nil || env.Error.Details != "read timeout" {
		t.Errorf("envelope = %+v", env)
	}
}
