package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/scanbill/internal/domain/auth"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/domain/unit"
	"github.com/xenking/scanbill/internal/handler"
)

type noopTelemetry struct{}

func (noopTelemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }
func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }

func setupService(t *testing.T) *httptest.Server {
	t.Helper()

	cfg, err := loadTestConfig(t, map[string]string{
		"SCANBILL_STORAGE":        "memory",
		"SCANBILL_API_KEY_PEPPER": "pepper",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := newService(ctx, zaptest.NewLogger(t), noopTelemetry{}, cfg)
	require.NoError(t, err)
	t.Cleanup(svc.close)
	require.NotNil(t, svc.mem)
	require.NotNil(t, svc.sweeper)

	require.NoError(t, svc.mem.UpsertProduct(ctx, product.Product{
		ID: "p1", Barcode: "B1", StoreID: "T1", Name: "Jacket", Price: decimal.RequireFromString("45.00"),
	}))
	_, err = svc.mem.Stock(ctx, []unit.Unit{{SerialNumber: "S1", Barcode: "B1", StoreID: "T1"}})
	require.NoError(t, err)
	authn := auth.NewAuthenticator(svc.mem, []byte("pepper"))
	require.NoError(t, svc.mem.UpsertAPIKey(ctx, auth.APIKeyInfo{
		ID: "staff", KeyHash: authn.Hash("staff-key"), Name: "Store staff", Scopes: []string{auth.ScopeOrdersRead},
	}))

	svc.health.SetReady(true)

	srv := httptest.NewServer(svc.handler)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestService_Health(t *testing.T) {
	srv := setupService(t)

	for _, path := range []string{"/livez", "/readyz"} {
		resp := do(t, srv, http.MethodGet, path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok", decode(t, resp)["status"])
	}
}

func TestService_Middlewares(t *testing.T) {
	srv := setupService(t)

	resp := do(t, srv, http.MethodGet, "/livez")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"), "probes are not rate limited")

	resp = do(t, srv, http.MethodGet, "/api/products/B1?storeId=T1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))

	resp = do(t, srv, http.MethodGet, "/livez", "X-Request-ID", "custom-request-id-12345")
	assert.Equal(t, "custom-request-id-12345", resp.Header.Get("X-Request-ID"))

	resp = do(t, srv, http.MethodOptions, "/api/orders/checkout/U1",
		"Origin", "http://example.com",
		"Access-Control-Request-Method", http.MethodPost,
	)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestService_CheckoutFlow(t *testing.T) {
	srv := setupService(t)

	resp := do(t, srv, http.MethodPost, "/api/cart/U1/add?storeId=T1&serialNumber=S1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	checkoutPath := "/api/orders/checkout/U1?storeId=T1&customerName=Asha&customerMobile=9000000001"
	resp = do(t, srv, http.MethodPost, checkoutPath, handler.IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode(t, resp)
	assert.Equal(t, "PAID", first["status"])

	resp = do(t, srv, http.MethodPost, checkoutPath, handler.IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], decode(t, resp)["id"])

	resp = do(t, srv, http.MethodGet, "/api/products/B1/units?storeId=T1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var units []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&units))
	assert.Empty(t, units)

	resp = do(t, srv, http.MethodGet, "/api/orders?storeId=T1")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/orders?storeId=T1", handler.APIKeyHeader, "staff-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
	require.Len(t, orders, 1)
	assert.Equal(t, first["id"], orders[0]["id"])
}
