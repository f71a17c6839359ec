package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuspay/fepgate/internal/connmgr"
	"github.com/nexuspay/fepgate/internal/endpoint"
	"github.com/nexuspay/fepgate/pkg/api/auth"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
	"github.com/nexuspay/fepgate/pkg/store/transaction/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestServer(t *testing.T) (*httptest.Server, *connmgr.Manager, transaction.Repository) {
	t.Helper()

	manager := connmgr.New(nil, nil, nil)
	require.NoError(t, manager.Add(context.Background(), connmgr.ChannelSpec{
		Active: true,
		Config: endpoint.Config{
			ChannelID:   "fisc-primary",
			ServerMode:  true,
			UnifiedPort: freePort(t),
		},
	}))
	repo := memory.NewRepository()

	s, err := NewServer(Config{JWT: JWTConfig{Secret: testSecret}}, manager, repo, false)
	require.NoError(t, err)

	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Close(ctx)
	})
	return ts, manager, repo
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	tok, err := svc.GenerateToken("tester", role)
	require.NoError(t, err)
	return tok
}

func doRequest(t *testing.T, method, url, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNewServerRequiresSecret(t *testing.T) {
	_, err := NewServer(Config{}, connmgr.New(nil, nil, nil), memory.NewRepository(), false)
	assert.Error(t, err)

	_, err = NewServer(Config{JWT: JWTConfig{Secret: "short"}}, connmgr.New(nil, nil, nil), memory.NewRepository(), false)
	assert.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)

	resp = doRequest(t, http.MethodGet, ts.URL+"/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChannelsRequireAuth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/channels", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/channels", "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListAndGetChannels(t *testing.T) {
	ts, _, _ := newTestServer(t)
	tok := token(t, auth.RoleOperator)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/channels", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string           `json:"status"`
		Data   []ChannelSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "fisc-primary", body.Data[0].ChannelID)
	assert.Equal(t, "BOTH_CONNECTED", body.Data[0].State)
	assert.True(t, body.Data[0].Server)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/channels/fisc-primary", tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/channels/no-such", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPendingStats(t *testing.T) {
	ts, _, _ := newTestServer(t)
	tok := token(t, auth.RoleOperator)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/pending/fisc-primary", tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/pending/no-such", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChannelActionsNeedAdmin(t *testing.T) {
	ts, manager, _ := newTestServer(t)

	operator := token(t, auth.RoleOperator)
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/v1/channels/fisc-primary/reconnect", operator)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := token(t, auth.RoleAdmin)
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/v1/channels/fisc-primary/reconnect", admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/v1/channels/fisc-primary/close", admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, manager.Count())
}

func TestGetTransaction(t *testing.T) {
	ts, _, repo := newTestServer(t)
	tok := token(t, auth.RoleOperator)

	rec := &transaction.Record{
		TransactionID: "TXN-api-test",
		Type:          transaction.TypeWithdrawal,
		Status:        transaction.StatusApproved,
		Stan:          "000042",
		Rrn:           "000000000042",
	}
	require.NoError(t, repo.Save(context.Background(), rec))

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/transactions/TXN-api-test", tok)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data transaction.Record `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "TXN-api-test", body.Data.TransactionID)
	assert.Equal(t, transaction.StatusApproved, body.Data.Status)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/transactions/TXN-missing", tok)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
