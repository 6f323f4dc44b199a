package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/chain"
	"github.com/coinwatch/coinwatch/coinselect"
	"github.com/coinwatch/coinwatch/metrics"
)

// coinSelector is the part of *coinselect.Selector served over HTTP.
type coinSelector interface {
	Select(ctx context.Context,
		req coinselect.SelectRequest) ([]chain.Coin, error)
	Release(ctx context.Context, ids []chainhash.Hash) error
}

type selectRequest struct {
	Address   string   `json:"address"`
	Amount    uint64   `json:"amount"`
	Fee       uint64   `json:"fee"`
	OmitCoins []string `json:"omit_coins"`
}

type coinResponse struct {
	CoinID         string `json:"coin_id"`
	ParentCoinInfo string `json:"parent_coin_info"`
	PuzzleHash     string `json:"puzzle_hash"`
	Amount         uint64 `json:"amount"`
}

type releaseRequest struct {
	CoinIDs []string `json:"coin_ids"`
}

// httpHandler serves metrics plus coin selection.
func (d *daemon) httpHandler() http.Handler {
	return newHTTPHandler(d.selector, d.pool.Network())
}

func newHTTPHandler(selector coinSelector, net chain.Network) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("POST /select", func(w http.ResponseWriter,
		r *http.Request) {

		handleSelect(w, r, selector, net)
	})
	mux.HandleFunc("POST /release", func(w http.ResponseWriter,
		r *http.Request) {

		handleRelease(w, r, selector)
	})

	return mux
}

func handleSelect(w http.ResponseWriter, r *http.Request,
	selector coinSelector, net chain.Network) {

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	puzzleHash, err := chain.DecodeAddress(req.Address, net)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	omit, err := parseHashes(req.OmitCoins)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	coins, err := selector.Select(r.Context(), coinselect.SelectRequest{
		OwnerPuzzleHash: puzzleHash,
		Amount:          req.Amount,
		Fee:             req.Fee,
		OmitCoins:       omit,
	})
	switch {
	case errors.Is(err, coinselect.ErrInsufficientFunds),
		errors.Is(err, coinselect.ErrAmountOverflow):

		writeError(w, http.StatusUnprocessableEntity, err)
		return

	case errors.Is(err, coinselect.ErrReservationRaceTimeout):
		writeError(w, http.StatusServiceUnavailable, err)
		return

	case err != nil:
		log.Errorf("Selection for %s failed: %v", req.Address, err)
		writeError(w, http.StatusBadGateway, err)
		return
	}

	resp := make([]coinResponse, 0, len(coins))
	for _, c := range coins {
		resp = append(resp, coinResponse{
			CoinID:         chain.HashString(c.ID()),
			ParentCoinInfo: chain.HashString(c.ParentCoinInfo),
			PuzzleHash:     chain.HashString(c.PuzzleHash),
			Amount:         c.Amount,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"coins": resp})
}

func handleRelease(w http.ResponseWriter, r *http.Request,
	selector coinSelector) {

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ids, err := parseHashes(req.CoinIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := selector.Release(r.Context(), ids); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseHashes(strs []string) ([]chainhash.Hash, error) {
	hashes := make([]chainhash.Hash, 0, len(strs))
	for _, s := range strs {
		h, err := chain.ParseHash(s)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}

	return hashes, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
