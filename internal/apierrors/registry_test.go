package apierrors

import (
	"net/http"
	"testing"
)

func TestRegistry_CoreCodesRegistered(t *testing.T) {
	// Core codes should be registered via init()
	codes := Registry.All()
	if len(codes) == 0 {
		t.Fatal("No codes registered")
	}

	// Check a few core codes exist
	mustExist := []string{
		CodeUnauthorized,
		CodePermissionDenied,
		CodeNotFound,
		CodeInvalidRequest,
		CodeInternalError,
		CodeSealMismatch,
		CodeTimeout,
	}

	for _, code := range mustExist {
		if _, ok := Registry.Get(code); !ok {
			t.Errorf("Core code %q not registered", code)
		}
	}
}

func TestRegistry_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodePermissionDenied, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeChannelFull, http.StatusServiceUnavailable},
		{"nope:unknown", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Registry.HTTPStatus(tt.code); got != tt.status {
			t.Errorf("HTTPStatus(%q) = %d, want %d", tt.code, got, tt.status)
		}
	}
}

func TestRegistry_PluginCodesArePrefixed(t *testing.T) {
	Registry.RegisterPlugin("core.pybridge", []ErrorCode{
		{Code: "call_timeout", Message: "Bridge call timed out", HTTPStatus: http.StatusGatewayTimeout},
	})

	if _, ok := Registry.Get("core.pybridge:call_timeout"); !ok {
		t.Fatal("plugin code not registered under plugin namespace")
	}

	ns := Registry.ByNamespace("core.pybridge")
	if len(ns) != 1 {
		t.Fatalf("expected 1 code in plugin namespace, got %d", len(ns))
	}
}
