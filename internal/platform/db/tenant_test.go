package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

func newTenantContext(t *testing.T, target string, header string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("X-Tenant-ID", header)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractTenantID_Resolution(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		jwt    string
		want   string
	}{
		{"default when nothing set", "/", "", "", "default"},
		{"header", "/", "practice_north", "", "practice_north"},
		{"query param", "/?tenant_id=practice_south", "", "", "practice_south"},
		{"jwt claim wins over header and query", "/?tenant_id=q", "h", "practice_jwt", "practice_jwt"},
		{"header wins over query", "/?tenant_id=q", "practice_hdr", "", "practice_hdr"},
		{"empty jwt claim falls through", "/", "practice_hdr", "", "practice_hdr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTenantContext(t, tt.target, tt.header)
			if tt.jwt != "" {
				c.Set("jwt_tenant_id", tt.jwt)
			} else if tt.name == "empty jwt claim falls through" {
				c.Set("jwt_tenant_id", "")
			}
			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("extractTenantID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTenantIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"practice", true},
		{"practice_1", true},
		{"A1B2", true},
		{"a", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"a/b", false},
		{"", false},
		{"tenant@1", false},
	}
	for _, tt := range tests {
		if got := tenantIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("tenantIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestConnFromContext(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}

	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if conn := ConnFromContext(ctx); conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "practice_a")
	if tid := TenantFromContext(ctx); tid != "practice_a" {
		t.Errorf("TenantFromContext = %q, want practice_a", tid)
	}
	if tid := TenantFromContext(context.Background()); tid != "" {
		t.Errorf("expected empty string, got %q", tid)
	}
	ctx = context.WithValue(context.Background(), TenantIDKey, 12345)
	if tid := TenantFromContext(ctx); tid != "" {
		t.Errorf("expected empty string for wrong type, got %q", tid)
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"invalid-id!", "a.b", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestTxFromContext(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

type failingBeginner struct{ err error }

func (f failingBeginner) Begin(context.Context) (pgx.Tx, error) { return nil, f.err }

func TestWithTx_BeginError(t *testing.T) {
	boom := errors.New("pool exhausted")
	err := WithTx(context.Background(), failingBeginner{err: boom}, func(context.Context) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped begin error, got %v", err)
	}
}
