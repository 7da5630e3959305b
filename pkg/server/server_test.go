package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokaycavdar/go-riskguard/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const loginBody = `{"usuarioId":"u1","fingerprintHash":"h","tipoEvento":"login",
"fingerprintData":{"userAgent":"UA","screenResolution":"1x1","timezone":"UTC"}}`

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"memory", func(*config.Config) {}},
		{"buntdb", func(c *config.Config) {
			c.History.Backend = config.BackendBunt
			c.History.BuntPath = filepath.Join(t.TempDir(), "history.db")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			s, err := New(context.Background(), cfg, "test", zerolog.Nop())
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/api/antifraude/validar", bytes.NewBufferString(loginBody))
			req.Header.Set("Content-Type", "application/json")
			req.RemoteAddr = "198.51.100.4:1234"
			w := httptest.NewRecorder()
			s.Router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"avaliado":true`)

			assert.NoError(t, s.Shutdown(context.Background()))
		})
	}
}

func TestNew_BadMaxMindPathFails(t *testing.T) {
	cfg := config.Default()
	cfg.Antifraude.IP.CityDB = filepath.Join(t.TempDir(), "missing-city.mmdb")
	cfg.Antifraude.IP.ASNDB = filepath.Join(t.TempDir(), "missing-asn.mmdb")

	_, err := New(context.Background(), cfg, "test", zerolog.Nop())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	s, err := New(context.Background(), cfg, "test", zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestNew_SeedsBlocklistAndMountsAdmin(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBunt} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.History.Backend = backend
			cfg.History.BuntPath = filepath.Join(t.TempDir(), "history.db")
			cfg.Antifraude.Blocklist.IPs = []string{"203.0.113.66"}
			cfg.HTTP.AdminKeys = []string{"ops-key"}

			s, err := New(context.Background(), cfg, "test", zerolog.Nop())
			require.NoError(t, err)
			defer s.Shutdown(context.Background())

			req := httptest.NewRequest(http.MethodPost, "/api/antifraude/validar", bytes.NewBufferString(loginBody))
			req.Header.Set("Content-Type", "application/json")
			req.RemoteAddr = "203.0.113.66:1234"
			w := httptest.NewRecorder()
			s.Router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"bloqueado":true`)
			assert.Contains(t, w.Body.String(), `"ipBloqueado":true`)

			req = httptest.NewRequest(http.MethodGet, "/api/antifraude/admin/bloqueios?tipo=ip", nil)
			req.Header.Set("X-API-Key", "ops-key")
			w = httptest.NewRecorder()
			s.Router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"motivo":"config"`)
		})
	}
}

func TestNew_InvalidSeedFails(t *testing.T) {
	cfg := config.Default()
	cfg.Antifraude.Blocklist.Devices = []string{"  "}

	_, err := New(context.Background(), cfg, "test", zerolog.Nop())
	assert.Error(t, err)
}
