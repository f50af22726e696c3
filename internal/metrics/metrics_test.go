package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ReplicatorTasks.WithLabelValues("done").Inc()
	NetMapEpoch.Set(7)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "strata_replicator_tasks_total"))
	assert.True(t, strings.Contains(text, "strata_netmap_epoch 7"))
}

func TestCounterValues(t *testing.T) {
	before := testutil.ToFloat64(PolicerShortage)
	PolicerShortage.Add(2)

	assert.Equal(t, before+2, testutil.ToFloat64(PolicerShortage))
}
