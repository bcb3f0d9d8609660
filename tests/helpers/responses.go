package helpers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/hbomb79/Telluride/internal/client"
	"gotest.tools/v3/assert"
)

// AssertErrorResponse asserts that the error returned by a client call is
// a server response with the status and error code provided.
func AssertErrorResponse(t *testing.T, err error, expectedStatusCode int, expectedErrorCode string) {
	var respErr *client.ResponseError
	if !errors.As(err, &respErr) {
		t.Fatalf("expected an error response from the server, got %v", err)
		return
	}

	assert.Equal(t, respErr.Status, expectedStatusCode, "HTTP status code did not match expected")
	assert.Assert(t, respErr.Body.Build != "", "error responses must carry the build identifier")
	if expectedErrorCode != "" {
		assert.Equal(t, respErr.Body.Code, expectedErrorCode)
	}
	assert.Assert(t, respErr.Body.Message != "", "%s error response has no message", http.StatusText(expectedStatusCode))
}
