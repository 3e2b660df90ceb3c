package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	issuerhttp "github.com/aussiebroadwan/issuer/internal/issuer/http"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

func newRouter(t *testing.T, checks map[string]issuerhttp.Check) (*issuerhttp.Router, *jwtx.KeyManager) {
	t.Helper()
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    "https://issuer.test",
		NumKeys:   2,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "issuer_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	return issuerhttp.NewRouter(km.KeySet(), "v-test", checks, reg, slog.New(slog.DiscardHandler)), km
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestJWKS(t *testing.T) {
	r, km := newRouter(t, nil)

	rec := get(t, r, "/.well-known/jwks.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var set jwtx.JWKS
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 2)

	kids := make([]string, 0, 2)
	for _, s := range km.Signers() {
		kids = append(kids, s.KID())
	}
	for _, k := range set.Keys {
		require.Contains(t, kids, k.Kid)
		require.Equal(t, "ES256", k.Alg)
	}
}

func TestLivez(t *testing.T) {
	r, _ := newRouter(t, nil)

	rec := get(t, r, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)

	var body issuerhttp.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "v-test", body.Version)
}

func TestReadyz(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	broken := func(context.Context) error { return errors.New("connection refused") }

	r, _ := newRouter(t, map[string]issuerhttp.Check{"store": healthy, "signer": healthy})
	rec := get(t, r, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	r, _ = newRouter(t, map[string]issuerhttp.Check{"store": broken, "signer": healthy})
	rec = get(t, r, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body issuerhttp.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "error: connection refused", body.Checks["store"])
	require.Equal(t, "ok", body.Checks["signer"])
}

func TestMetrics(t *testing.T) {
	r, _ := newRouter(t, nil)

	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "issuer_test_total 1")
}

func TestNoTokenEndpoint(t *testing.T) {
	r, _ := newRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth2/token", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
