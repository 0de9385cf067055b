package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	RequestsAdmitted.Add(0) // touch the collector so it reports even at zero

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ridecoord_requests_admitted_total")
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}
