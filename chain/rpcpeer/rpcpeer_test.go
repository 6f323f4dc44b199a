package rpcpeer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/stretchr/testify/require"
)

var puzzleHash = chainhash.Hash{0xaa}

// fakeNode answers the full node RPC endpoints from scripted state.
type fakeNode struct {
	mu       sync.Mutex
	network  string
	peak     uint32
	hashes   map[uint32]chainhash.Hash
	records  []coinRecordJSON
	requests []string
	fail     bool
}

func newFakeNode(network string, peak uint32) *fakeNode {
	n := &fakeNode{
		network: network,
		peak:    peak,
		hashes:  make(map[uint32]chainhash.Hash),
	}
	for h := uint32(0); h <= peak; h++ {
		n.hashes[h] = chainhash.Hash{byte(h), 0xbb}
	}

	return n
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	endpoint := r.URL.Path[1:]
	n.requests = append(n.requests, endpoint)

	var params map[string]json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&params)

	if n.fail {
		writeJSON(w, map[string]interface{}{
			"success": false,
			"error":   "node is syncing",
		})
		return
	}

	block := func(h uint32) blockRecordJSON {
		return blockRecordJSON{
			HeaderHash: hash(n.hashes[h]),
			Height:     h,
			Weight:     new(big.Int).Lsh(big.NewInt(int64(h)), 70),
		}
	}

	resp := map[string]interface{}{"success": true}
	switch endpoint {
	case "get_network_info":
		resp["network_name"] = n.network
		resp["network_prefix"] = "txch"

	case "get_blockchain_state":
		peak := block(n.peak)
		resp["blockchain_state"] = map[string]interface{}{
			"peak": peak,
			"sync": map[string]bool{"synced": true},
		}

	case "get_block_record_by_height":
		var h uint32
		_ = json.Unmarshal(params["height"], &h)
		if h > n.peak {
			resp = map[string]interface{}{
				"success": false,
				"error":   "height not found",
			}
			break
		}
		resp["block_record"] = block(h)

	case "get_coin_records_by_puzzle_hash":
		var include bool
		_ = json.Unmarshal(params["include_spent_coins"], &include)
		if include {
			http.Error(w, "unexpected spent coins request",
				http.StatusBadRequest)
			return
		}
		resp["coin_records"] = n.records

	case "get_coin_record_by_name":
		var name hash
		_ = json.Unmarshal(params["name"], &name)
		for _, rec := range n.records {
			c := toCoin(rec.Coin)
			if c.ID() == chainhash.Hash(name) {
				resp["coin_record"] = rec
			}
		}
		if _, ok := resp["coin_record"]; !ok {
			resp["coin_record"] = nil
		}

	default:
		http.NotFound(w, r)
		return
	}

	writeJSON(w, resp)
}

func (n *fakeNode) setFail(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.fail = fail
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func toCoin(c coinJSON) chain.Coin {
	return chain.Coin{
		ParentCoinInfo: chainhash.Hash(c.ParentCoinInfo),
		PuzzleHash:     chainhash.Hash(c.PuzzleHash),
		Amount:         c.Amount,
	}
}

func record(seed byte, amount uint64, spentAt uint32) coinRecordJSON {
	return coinRecordJSON{
		Coin: coinJSON{
			ParentCoinInfo: hash{seed},
			PuzzleHash:     hash(puzzleHash),
			Amount:         amount,
		},
		ConfirmedBlockIndex: 1,
		SpentBlockIndex:     spentAt,
		Spent:               spentAt > 0,
	}
}

func startNode(t *testing.T, node *fakeNode) *httptest.Server {
	t.Helper()

	server := httptest.NewTLSServer(node)
	t.Cleanup(server.Close)

	return server
}

func dialNode(t *testing.T, server *httptest.Server,
	net chain.Network) (chain.Peer, error) {

	t.Helper()

	d := NewDialer(DialerConfig{
		Hosts: []string{server.Listener.Addr().String()},
	})

	return d.ConnectRandom(t.Context(), net, &chain.Credentials{
		SkipVerify: true,
	})
}

func TestPeerQueries(t *testing.T) {
	t.Parallel()

	node := newFakeNode("testnet11", 20)
	node.records = []coinRecordJSON{
		record(1, 100, 0),
		record(2, 200, 15),
		record(3, 300, 0),
	}
	server := startNode(t, node)

	peer, err := dialNode(t, server, chain.Testnet)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, peer.Close()) })

	ctx := t.Context()

	peak, err := peer.Peak(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(20), peak.UnwrapOr(0))

	block, err := peer.BlockAtHeight(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, uint32(7), block.Height)
	require.Equal(t, node.hashes[7], block.Hash)
	require.Equal(t, new(big.Int).Lsh(big.NewInt(7), 70), block.Weight)

	anchor := chain.BlockStamp{Height: 10, Hash: node.hashes[10]}
	state, err := peer.UnspentCoins(ctx, puzzleHash, anchor)
	require.NoError(t, err)
	require.Equal(t, uint32(20), state.Height)
	require.Equal(t, node.hashes[20], state.Hash)
	require.Len(t, state.Coins, 2)
	require.Equal(t, uint64(100), state.Coins[0].Amount)
	require.Equal(t, uint64(300), state.Coins[1].Amount)
	require.Equal(t, puzzleHash, state.Coins[0].PuzzleHash)

	spentCoin := toCoin(node.records[1].Coin)
	spent, err := peer.IsCoinSpent(ctx, spentCoin.ID(), chain.BlockStamp{})
	require.NoError(t, err)
	require.True(t, spent)

	spent, err = peer.IsCoinSpent(ctx, state.Coins[0].ID(),
		chain.BlockStamp{})
	require.NoError(t, err)
	require.False(t, spent)

	_, err = peer.IsCoinSpent(ctx, chainhash.Hash{0xff}, chain.BlockStamp{})
	require.ErrorIs(t, err, ErrCoinNotFound)
}

func TestPeerBehindAnchor(t *testing.T) {
	t.Parallel()

	node := newFakeNode("testnet11", 5)
	peer, err := dialNode(t, startNode(t, node), chain.Testnet)
	require.NoError(t, err)

	_, err = peer.UnspentCoins(t.Context(), puzzleHash, chain.BlockStamp{
		Height: 6,
		Hash:   chainhash.Hash{6},
	})
	require.ErrorIs(t, err, ErrBehindAnchor)
}

// TestPeerReorgedAnchor checks an anchor that left the main chain still
// yields the full unspent set.
func TestPeerReorgedAnchor(t *testing.T) {
	t.Parallel()

	node := newFakeNode("testnet11", 5)
	node.records = []coinRecordJSON{record(1, 100, 0)}
	peer, err := dialNode(t, startNode(t, node), chain.Testnet)
	require.NoError(t, err)

	state, err := peer.UnspentCoins(t.Context(), puzzleHash,
		chain.BlockStamp{Height: 3, Hash: chainhash.Hash{0xde, 0xad}})
	require.NoError(t, err)
	require.Len(t, state.Coins, 1)
}

func TestPeerRPCFailure(t *testing.T) {
	t.Parallel()

	node := newFakeNode("testnet11", 5)
	peer, err := dialNode(t, startNode(t, node), chain.Testnet)
	require.NoError(t, err)

	node.setFail(true)

	_, err = peer.Peak(t.Context())
	require.ErrorIs(t, err, ErrRPCFailed)
	require.ErrorContains(t, err, "node is syncing")

	_, err = peer.UnspentCoins(t.Context(), puzzleHash, chain.BlockStamp{})
	require.ErrorIs(t, err, ErrRPCFailed)
}

func TestPeerHTTPFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
	))
	t.Cleanup(server.Close)

	peer := NewPeer(server.Listener.Addr().String(), server.Client())

	_, err := peer.Peak(t.Context())
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.ErrorContains(t, err, "HTTP 500")
}

func TestDialWrongNetwork(t *testing.T) {
	t.Parallel()

	server := startNode(t, newFakeNode("mainnet", 1))

	_, err := dialNode(t, server, chain.Testnet)
	require.ErrorIs(t, err, ErrWrongNetwork)
}

type staticSeeder []string

func (s staticSeeder) LookupHosts(_ context.Context) ([]string, error) {
	return s, nil
}

func TestDialSeededHost(t *testing.T) {
	t.Parallel()

	server := startNode(t, newFakeNode("testnet11", 1))

	d := NewDialer(DialerConfig{
		Seeder: staticSeeder{server.Listener.Addr().String()},
	})
	peer, err := d.ConnectRandom(t.Context(), chain.Testnet,
		&chain.Credentials{SkipVerify: true})
	require.NoError(t, err)
	require.Equal(t, server.Listener.Addr().String(), peer.Addr())
}

func TestDialNoHosts(t *testing.T) {
	t.Parallel()

	d := NewDialer(DialerConfig{})
	_, err := d.ConnectRandom(t.Context(), chain.Testnet, nil)
	require.ErrorIs(t, err, ErrNoHosts)
}

// writeClientCert creates a self signed client certificate pair and
// returns the file paths.
func writeClientCert(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl,
		&key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile := filepath.Join(dir, "client.crt")
	keyFile := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(
		&pem.Block{Type: "CERTIFICATE", Bytes: der},
	), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(
		&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER},
	), 0o600))

	return certFile, keyFile
}

// TestDialMutualTLS checks the client certificate is presented and the
// node certificate is verified against the pinned CA.
func TestDialMutualTLS(t *testing.T) {
	t.Parallel()

	server := httptest.NewUnstartedServer(newFakeNode("testnet11", 1))
	server.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	server.StartTLS()
	t.Cleanup(server.Close)

	dir := t.TempDir()
	certFile, keyFile := writeClientCert(t, dir)

	caFile := filepath.Join(dir, "ca.crt")
	require.NoError(t, os.WriteFile(caFile, pem.EncodeToMemory(
		&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw},
	), 0o600))

	d := NewDialer(DialerConfig{
		Hosts: []string{server.Listener.Addr().String()},
	})

	_, err := d.ConnectRandom(t.Context(), chain.Testnet,
		&chain.Credentials{CAFile: caFile})
	require.Error(t, err, "dial without client certificate")

	peer, err := d.ConnectRandom(t.Context(), chain.Testnet,
		&chain.Credentials{
			CertFile: certFile,
			KeyFile:  keyFile,
			CAFile:   caFile,
		})
	require.NoError(t, err)
	require.NoError(t, peer.Close())
}

func TestTLSConfigErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := TLSConfig(&chain.Credentials{
		CertFile: filepath.Join(dir, "missing.crt"),
		KeyFile:  filepath.Join(dir, "missing.key"),
	})
	require.Error(t, err)

	bogus := filepath.Join(dir, "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not pem"), 0o600))

	_, err = TLSConfig(&chain.Credentials{CAFile: bogus})
	require.ErrorContains(t, err, "no certificates")

	cfg, err := TLSConfig(nil)
	require.NoError(t, err)
	require.False(t, cfg.InsecureSkipVerify)
}
