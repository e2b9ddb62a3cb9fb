package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransportError indicates the RPC endpoint was unreachable or answered with
// a non-success HTTP status. Callers treat it as transient and retry on the
// next tick.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aria2 transport: %v", e.Err)
	}
	return fmt.Sprintf("aria2 transport: unexpected status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RPCError carries a structured error returned by the daemon for a call.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("aria2 rpc: code %d: %s", e.Code, e.Message)
}

// DownloadStatus is the subset of a tellStatus response the reconcile loop
// interprets. FollowedBy is set when a magnet or torrent admission resolved
// into one or more data transfer jobs under new gids.
type DownloadStatus struct {
	GID          string           `json:"gid"`
	Status       string           `json:"status"`
	FollowedBy   []string         `json:"followedBy"`
	ErrorCode    string           `json:"errorCode"`
	ErrorMessage string           `json:"errorMessage"`
	Files        []DownloadedFile `json:"files"`
}

type DownloadedFile struct {
	Path   string `json:"path"`
	Length string `json:"length"`
}

// FilePaths returns the reported output paths in order.
func (s *DownloadStatus) FilePaths() []string {
	paths := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		if f.Path != "" {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// Client is a stateless JSON-RPC wrapper over the aria2 control channel.
// It holds only immutable connection parameters.
type Client struct {
	endpoint string
	secret   string
	http     *http.Client
}

// NewClient targets a locally-run daemon on host:port.
func NewClient(host string, port int, secret string) *Client {
	return NewClientEndpoint(fmt.Sprintf("http://%s:%d/jsonrpc", host, port), secret)
}

// NewClientEndpoint targets an arbitrary aria2 JSON-RPC endpoint URL.
func NewClientEndpoint(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call invokes an aria2 method with positional params, prefixing the shared
// secret token, and decodes the result payload into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, out any, params ...any) error {
	full := make([]any, 0, len(params)+1)
	full = append(full, "token:"+c.secret)
	full = append(full, params...)

	if !strings.Contains(method, ".") {
		method = "aria2." + method
	}

	body, err := json.Marshal(rpcRequest{
		Version: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  full,
	})
	if err != nil {
		return fmt.Errorf("encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &TransportError{StatusCode: resp.StatusCode}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return &RPCError{Code: decoded.Error.Code, Message: decoded.Error.Message}
	}

	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return nil
}

// AddURI submits a download for the given source URL and returns the assigned gid.
func (c *Client) AddURI(ctx context.Context, sourceURL, downloadDir string) (string, error) {
	options := map[string]string{"dir": downloadDir}
	var gid string
	if err := c.Call(ctx, "addUri", &gid, []string{sourceURL}, options); err != nil {
		return "", err
	}
	return gid, nil
}

// TellStatus queries the daemon for the current state of a job.
func (c *Client) TellStatus(ctx context.Context, gid string) (*DownloadStatus, error) {
	var status DownloadStatus
	if err := c.Call(ctx, "tellStatus", &status, gid); err != nil {
		return nil, err
	}
	return &status, nil
}

// Version probes the daemon; used as a readiness check after spawning it.
func (c *Client) Version(ctx context.Context) (string, error) {
	var result struct {
		Version string `json:"version"`
	}
	if err := c.Call(ctx, "getVersion", &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

// Shutdown asks the daemon to exit gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, "shutdown", nil)
}
