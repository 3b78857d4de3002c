package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeExposesCounters(t *testing.T) {
	before := testutil.ToFloat64(PostsCreated)
	PostsCreated.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PostsCreated))
	LoginRejected.WithLabelValues("banned").Inc()

	srv, err := Serve("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "board_posts_created_total")
	assert.Contains(t, string(body), `board_login_rejected_total{reason="banned"}`)
}

func TestServeBadAddr(t *testing.T) {
	_, err := Serve("256.0.0.1:bad")
	require.Error(t, err)
}
