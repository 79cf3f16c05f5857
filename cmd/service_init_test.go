package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kiosk-status/internal/config"
	"github.com/sells-group/kiosk-status/internal/report"
)

// testConfig mirrors config.Load defaults.
func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, CORSOrigins: []string{"*"}, ReadTimeoutSecs: 15, WriteTimeoutSecs: 45},
		Log:      config.LogConfig{Level: "info", Format: "json"},
		Store:    config.StoreConfig{Driver: "memory", DatabaseURL: "file::memory:"},
		Trust:    config.TrustConfig{Min: 0.3, Max: 1.0, Default: 0.5, MinReports: 3, AccuracyWeight: 0.7},
		Status:   config.StatusConfig{HorizonHours: 24, DecayHours: 12},
		Cache:    config.CacheConfig{TTLSecs: 300, Precision: 3},
		Provider: config.ProviderConfig{URL: "http://127.0.0.1:1", TimeoutSecs: 5, RateLimit: 100, MaxAttempts: 1, BreakerThreshold: 5, BreakerResetSecs: 30},
		Admin:    config.AdminConfig{DefaultLimit: 50},
	}
}

const overpassBody = `{"elements": [
  {"type": "node", "id": 11, "lat": 40.7128, "lon": -74.006,
   "tags": {"amenity": "atm", "operator": "Chase", "addr:street": "Broadway"}}
]}`

func TestInitStore_Drivers(t *testing.T) {
	ctx := context.Background()

	c := testConfig()
	st, err := initStore(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &report.MemoryStore{}, st)
	require.NoError(t, st.Close())

	c.Store.Driver = "sqlite"
	st, err = initStore(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &report.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	c.Store.Driver = "postgres"
	_, err = initStore(ctx, c)
	assert.Error(t, err)
}

func TestInitService_InvalidConfig(t *testing.T) {
	c := testConfig()
	c.Server.Port = 0

	_, err := initService(context.Background(), c, nil)
	assert.Error(t, err)
}

func TestInitService_EndToEnd(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			var calls atomic.Int32
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(overpassBody))
			}))
			defer upstream.Close()

			c := testConfig()
			c.Store.Driver = driver
			c.Provider.URL = upstream.URL

			env, err := initService(context.Background(), c, nil)
			require.NoError(t, err)
			defer env.Close()

			srv := httptest.NewServer(env.Handler)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/report", "application/json",
				strings.NewReader(`{"kiosk_id":"11","status":"no_cash","device_hash":"dev-a"}`))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			for range 2 {
				resp, err = http.Get(srv.URL + "/api/kiosks/nearby?lat=40.7128&lng=-74.006")
				require.NoError(t, err)
				require.Equal(t, http.StatusOK, resp.StatusCode)

				var kiosks []map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&kiosks))
				resp.Body.Close()

				require.Len(t, kiosks, 1)
				assert.Equal(t, "11", kiosks[0]["id"])
				assert.Equal(t, "Chase", kiosks[0]["bank"])
				assert.Equal(t, "Broadway", kiosks[0]["address"])
				assert.Equal(t, "no_cash", kiosks[0]["status"])
			}
			assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
			assert.Equal(t, 1, env.Ledger.Len())
		})
	}
}

func TestInitService_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	c := testConfig()
	c.Provider.URL = upstream.URL

	env, err := initService(context.Background(), c, nil)
	require.NoError(t, err)
	defer env.Close()

	rec := httptest.NewRecorder()
	env.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kiosks/nearby?lat=1&lng=1", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
