package httpmetrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RecordsRequestDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(nil)
	resp, err := client.Get(srv.URL + "/foo/bar")
	require.NoError(t, err)
	defer resp.Body.Close()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "meshdns_controller_http_request_duration_seconds" {
			found = true
			require.Len(t, mf.Metric, 1)
			require.Equal(t, uint64(1), mf.Metric[0].GetSummary().GetSampleCount())
		}
	}
	require.True(t, found)
}

func TestNewClient_PreservesExistingTransport(t *testing.T) {
	base := &http.Transport{}
	client := NewClient(&http.Client{Transport: base})
	rt, ok := client.Transport.(*roundTripper)
	require.True(t, ok)
	require.Same(t, base, rt.next)
}
