package rpcpeer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrConnectionFailed is returned when a node could not be reached or
	// answered with a non 2xx status.
	ErrConnectionFailed = errors.New("rpc connection failed")

	// ErrInvalidResponse is returned when a node's answer cannot be
	// decoded.
	ErrInvalidResponse = errors.New("invalid rpc response")

	// ErrRPCFailed is returned when a node reports success false.
	ErrRPCFailed = errors.New("rpc call failed")
)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 1024

// envelope holds the fields every full node response carries.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// client posts JSON requests to the RPC endpoints of one full node.
type client struct {
	baseURL string
	http    *http.Client
}

// call posts params to the endpoint and decodes the answer into result.
func (c *client) call(ctx context.Context, endpoint string, params,
	result interface{}) error {

	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/"+endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrConnectionFailed,
			endpoint, resp.StatusCode, respBody)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", ErrConnectionFailed,
			endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode %s response: %w",
			ErrInvalidResponse, endpoint, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s: %s", ErrRPCFailed, endpoint, env.Error)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", ErrInvalidResponse,
			endpoint, err)
	}

	return nil
}
