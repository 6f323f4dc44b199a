package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHandlerExposesCollectors checks that recorded values are served.
func TestHandlerExposesCollectors(t *testing.T) {
	SetPoolSize(3)
	PeerReplaced(true)
	ObserveTick(20 * time.Millisecond)
	CoinStateUpdated("spent")
	SelectionResult("selected")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), "coinwatch_peer_pool_size 3")
	require.Contains(t, string(body),
		`coinwatch_peer_replacements_total{result="connected"}`)
	require.Contains(t, string(body),
		`coinwatch_coin_state_updates_total{status="spent"}`)
	require.Contains(t, string(body), "coinwatch_reconcile_tick_seconds")
}
