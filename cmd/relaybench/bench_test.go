package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bynery-main/limonata-notion-clone-sub001/api"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/service"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
	"github.com/bynery-main/limonata-notion-clone-sub001/transport/websocket"
)

func startRelay(t *testing.T) string {
	t.Helper()
	issuer := token.NewIssuer([]byte("relaybench-test-signing-key-0123"))
	gw := websocket.Start(websocket.Config{}, issuer)
	svc := service.NewRelayService(issuer, gw.Registry(), gw.Presence(), gw)
	srv := httptest.NewServer(api.NewServer(svc, gw))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
		srv.Close()
	})
	return srv.URL
}

func TestRun_DeliversEveryDelta(t *testing.T) {
	url := startRelay(t)

	report, err := Run(context.Background(), Options{
		URL:      url,
		Room:     "bench-room",
		Clients:  3,
		Messages: 20,
		Timeout:  10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, 3*2*20, report.Expected)
	assert.Equal(t, report.Expected, report.Received)
	assert.Zero(t, report.OutOfOrder)
	assert.Zero(t, report.Errors)
	assert.True(t, report.Complete())
	assert.LessOrEqual(t, report.P50, report.Max)
}

func TestRun_RandomRoom(t *testing.T) {
	url := startRelay(t)

	report, err := Run(context.Background(), Options{
		URL:      url,
		Clients:  2,
		Messages: 1,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Received)
}

func TestRun_RequiresTwoClients(t *testing.T) {
	_, err := Run(context.Background(), Options{URL: "http://127.0.0.1:1", Clients: 1, Timeout: time.Second})
	assert.Error(t, err)
}

func TestClient_FetchTokenError(t *testing.T) {
	url := startRelay(t)
	c := NewClient(url)

	_, err := c.FetchToken(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestPercentile(t *testing.T) {
	d := []time.Duration{5, 1, 3, 2, 4}
	sortDurations(d)

	assert.Equal(t, time.Duration(0), percentile(nil, 0.5))
	assert.Equal(t, time.Duration(3), percentile(d, 0.5))
	assert.Equal(t, time.Duration(5), percentile(d, 1))
}
