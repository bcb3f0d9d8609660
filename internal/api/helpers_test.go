package api_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/hbomb79/Telluride/internal/api/response"
	"gotest.tools/v3/assert"
)

// assertEnvelope checks the status and the build-tagged JSON envelope
// of a recorded response. An empty message is not compared.
func assertEnvelope(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, expectedMessage string, expectedCode string) {
	t.Helper()

	assert.Equal(t, rec.Code, expectedStatus, "HTTP status code did not match expected")

	var body response.Message
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &body), "response body is not an envelope: %s", rec.Body.String())
	assert.Equal(t, body.Build, testBuild)
	if expectedMessage != "" {
		assert.Equal(t, body.Message, expectedMessage)
	}
	assert.Equal(t, body.Code, expectedCode)
}
