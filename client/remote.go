package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bmpow/config"
	"bmpow/pow"
)

// serviceClient talks to a bmpow service over its REST API.
type serviceClient struct {
	baseURL      string
	authToken    string
	pollInterval time.Duration
	http         *http.Client
}

func newServiceClient(cfg *config.ClientConfig) *serviceClient {
	return &serviceClient{
		baseURL:      cfg.Server.URL,
		authToken:    cfg.Server.AuthToken,
		pollInterval: cfg.Network.PollInterval,
		http:         &http.Client{Timeout: cfg.Network.RequestTimeout},
	}
}

// Wire types, mirroring the service's API.
type searchRequest struct {
	Target      uint64 `json:"target"`
	InitialHash string `json:"initial_hash"`
	Workers     int    `json:"workers"`
	MaxNonce    uint64 `json:"max_nonce"`
}

type searchResponse struct {
	Status    int    `json:"status"`
	Nonce     uint64 `json:"nonce"`
	Hashes    uint64 `json:"hashes"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type jobView struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Nonce  uint64 `json:"nonce"`
	Hashes uint64 `json:"hashes"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// do issues one authenticated request and decodes the JSON response into out.
// Non-2xx responses are turned into errors carrying the service's status code.
func (c *serviceClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// decodeError maps an error response body back onto the engine's error
// values so StatusOf works on the client side too.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr errorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("%w: server returned %s", pow.ErrInternal, resp.Status)
	}

	switch apiErr.Status {
	case pow.StatusBadInput:
		return fmt.Errorf("%w: %s", pow.ErrBadInput, apiErr.Error)
	case pow.StatusOverflow:
		return fmt.Errorf("%w: %s", pow.ErrOverflow, apiErr.Error)
	default:
		return fmt.Errorf("%w: %s", pow.ErrInternal, apiErr.Error)
	}
}

// runRemoteSearch blocks on the service's synchronous endpoint.
func runRemoteSearch(ctx context.Context, c *serviceClient, target uint64, digest []byte, workers int, maxNonce uint64) error {
	fmt.Printf("Searching on %s (target %d)...\n", c.baseURL, target)

	var out searchResponse
	err := c.do(ctx, http.MethodPost, "/api/search", searchRequest{
		Target:      target,
		InitialHash: hex.EncodeToString(digest),
		Workers:     workers,
		MaxNonce:    maxNonce,
	}, &out)
	if err != nil {
		return err
	}

	reportSuccess(out.Nonce, out.Hashes, time.Duration(out.ElapsedMS)*time.Millisecond)
	return nil
}

// runRemoteJob submits an asynchronous job and polls until it reaches a
// terminal state or the context is cancelled.
func runRemoteJob(ctx context.Context, c *serviceClient, target uint64, digest []byte, workers int, maxNonce uint64) error {
	var submitted jobView
	err := c.do(ctx, http.MethodPost, "/api/jobs", searchRequest{
		Target:      target,
		InitialHash: hex.EncodeToString(digest),
		Workers:     workers,
		MaxNonce:    maxNonce,
	}, &submitted)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s submitted to %s, polling every %s...\n", submitted.ID, c.baseURL, c.pollInterval)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Interrupted; the job keeps running on the server")
			return ctx.Err()
		case <-ticker.C:
			var view jobView
			if err := c.do(ctx, http.MethodGet, "/api/jobs?id="+submitted.ID, nil, &view); err != nil {
				return err
			}

			switch view.State {
			case "done":
				reportSuccess(view.Nonce, view.Hashes, 0)
				return nil
			case "failed":
				return statusError(view.Status, view.Error)
			default:
				fmt.Printf("Job %s: %s, %d hashes\r", view.ID, view.State, view.Hashes)
			}
		}
	}
}

// statusError rebuilds an engine error from a job's terminal status code.
func statusError(status int, message string) error {
	switch status {
	case pow.StatusBadInput:
		return fmt.Errorf("%w: %s", pow.ErrBadInput, message)
	case pow.StatusOverflow:
		return fmt.Errorf("%w: %s", pow.ErrOverflow, message)
	default:
		return fmt.Errorf("%w: %s", pow.ErrInternal, message)
	}
}
