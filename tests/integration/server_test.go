package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/hbomb79/Telluride/tests/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func spawn(t *testing.T) *helpers.TestService {
	req := helpers.NewServiceRequest().WithYtdlpBinary(helpers.WriteFakeYtdlp(t))
	return helpers.SpawnTelluride(t, req)
}

func TestServer_Ping(t *testing.T) {
	srv := spawn(t)

	pong, err := srv.NewClient().Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", pong.Message)
	assert.NotEmpty(t, pong.Build)
}

func TestServer_QueryReturnsYtdlpMetadata(t *testing.T) {
	const pageURL = "https://www.youtube.com/watch?v=CDC5ludJazw"
	srv := spawn(t)

	raw, err := srv.NewClient().Query(ctx, pageURL)
	require.NoError(t, err)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(raw, &metadata))
	assert.Equal(t, "Fake video", metadata["title"])
	assert.Equal(t, pageURL, metadata["webpage_url"])
}

func TestServer_QueryFailures(t *testing.T) {
	srv := spawn(t)
	client := srv.NewClient()

	_, err := client.Query(ctx, "https://example.com/unsupported")
	helpers.AssertErrorResponse(t, err, http.StatusUnprocessableEntity, "UNSUPPORTED_URL")

	_, err = client.Query(ctx, "https://example.com/garbage")
	helpers.AssertErrorResponse(t, err, http.StatusBadGateway, "MALFORMED_OUTPUT")

	_, err = client.Query(ctx, "not a url")
	helpers.AssertErrorResponse(t, err, http.StatusBadRequest, "INVALID_URL")

	// The server must survive failed extractions
	_, err = client.Ping(ctx)
	assert.NoError(t, err)
}

func TestServer_ShutdownStopsProcess(t *testing.T) {
	srv := spawn(t)

	msg, err := srv.NewClient().Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Shutting down", msg.Message)

	assert.NoError(t, srv.RequireExit(t, 10*time.Second), "process should exit cleanly after shutdown")
}
