package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["service"] != "askdb-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})

	h := NewHandler(cfg, Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ASKDB_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{AuthMiddleware: auth.Middleware(nil, auth.Chain{})})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ASKDB_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticKeyValidator("k1:user-1")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	connections := &fakeConnections{}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Connections:    connections,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/connections", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d", authResp.Code)
	}
	if connections.listedFor != "user-1" {
		t.Fatalf("listed for %q", connections.listedFor)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"ASKDB_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Connections: &fakeConnections{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "AUTH_MIDDLEWARE_MISSING" {
		t.Fatalf("body = %v", body)
	}
}

func TestHeaderIdentityWhenAuthOptional(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	connections := &fakeConnections{}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.HeaderMiddleware,
		Connections:    connections,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set(auth.UserIDHeader, "user-5")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if connections.listedFor != "user-5" {
		t.Fatalf("listed for %q", connections.listedFor)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		CheckFunc("catalog", func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		}),
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil || err.Error() != "catalog: boom" {
		t.Fatalf("error = %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestConfigReadinessChecks(t *testing.T) {
	cfg := loadConfig(t, map[string]string{})
	if err := CheckCatalogDSN(cfg)(context.Background()); err != nil {
		t.Fatalf("default catalog dsn error = %v", err)
	}
	cfg.Catalog.DSN = ""
	if err := CheckCatalogDSN(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing catalog dsn")
	}
	cfg.ObjectStore.Endpoint = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing object store endpoint")
	}
	if CheckFunc("none", nil) != nil {
		t.Fatal("nil ping should yield nil check")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:          http.StatusBadRequest,
		apperr.KindLikelyWrongEngine:   http.StatusBadRequest,
		apperr.KindUnsupportedEngine:   http.StatusBadRequest,
		apperr.KindStatementNotAllowed: http.StatusUnprocessableEntity,
		apperr.KindNotFound:            http.StatusNotFound,
		apperr.KindConnection:          http.StatusBadGateway,
		apperr.KindIntrospection:       http.StatusBadGateway,
		apperr.KindModel:               http.StatusBadGateway,
		apperr.KindQuery:               http.StatusInternalServerError,
		apperr.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusOf(kind); got != want {
			t.Fatalf("statusOf(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestWriteFailureHidesUntypedErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	writeFailure(Dependencies{}, rr, httptest.NewRequest(http.MethodGet, "/v1/ask", nil), errors.New("dial tcp 10.0.0.1: secret detail"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "INTERNAL_ERROR" || body["message"] != "internal error" {
		t.Fatalf("body = %v", body)
	}
}

func TestWriteFailureCarriesEngineContext(t *testing.T) {
	err := &apperr.Error{Kind: apperr.KindConnection, Code: "CONNECTION_FAILED", Message: "refused", Engine: "postgresql", SQLState: "08001"}
	rr := httptest.NewRecorder()
	writeFailure(Dependencies{}, rr, httptest.NewRequest(http.MethodPost, "/v1/connections", nil), err)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	extra, _ := body["context"].(map[string]any)
	if body["error_code"] != "CONNECTION_FAILED" || extra["engine"] != "postgresql" || extra["sql_state"] != "08001" {
		t.Fatalf("body = %v", body)
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("askdb-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if raw, ok := payload.(string); ok {
			body.WriteString(raw)
		} else if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v (body=%s)", err, rr.Body.String())
	}
	return body
}
