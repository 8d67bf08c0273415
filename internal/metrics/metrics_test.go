package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(func() uint64 { return 0 })

	m.IncrementMinted()
	m.IncrementMinted()
	m.IncrementRejected(ReasonUnauthorized)
	m.IncrementAuthFailure("caller")
	m.ObserveMint(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CertificatesMinted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MintRejected.WithLabelValues(ReasonUnauthorized)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MintRejected.WithLabelValues(ReasonPolicy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("caller")))
}

func TestInstancesAreIndependent(t *testing.T) {
	a := New(func() uint64 { return 0 })
	b := New(func() uint64 { return 0 })

	a.IncrementMinted()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CertificatesMinted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CertificatesMinted))
}

func TestHandler(t *testing.T) {
	supply := uint64(3)
	m := New(func() uint64 { return supply })
	m.IncrementMinted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.True(t, strings.Contains(out, "certregistry_certificates_minted_total 1"), out)
	assert.True(t, strings.Contains(out, "certregistry_total_supply 3"), out)
}
