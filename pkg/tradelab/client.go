// Package tradelab is a Go client for the tradelab-server HTTP, WebSocket and
// gRPC APIs.
package tradelab

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tradelab/internal/api"
	"tradelab/internal/domain"
	"tradelab/internal/strategy"
	"tradelab/internal/stream"
)

// Request is the body of every backtest call.
type Request = api.RunRequest

// Event is one batch stream event.
type Event = stream.Event

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("tradelab: %d %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("tradelab: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the tradelab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tradelab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// StrategyInfo describes one strategy the server can run. Defaults holds the
// default parameter object, usable as Request.Parameters.
type StrategyInfo struct {
	ID       string                    `json:"id"`
	Defaults json.RawMessage           `json:"defaults"`
	Ranges   map[string]strategy.Range `json:"ranges"`
	WarmUp   int                       `json:"warm_up_bars"`
}

// Strategies lists the strategies the server can run.
func (c *Client) Strategies(ctx context.Context) ([]StrategyInfo, error) {
	var out []StrategyInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Instruments lists the instruments the server has bars for at interval, or
// at the server default when interval is empty.
func (c *Client) Instruments(ctx context.Context, interval string) ([]string, error) {
	path := "/api/v1/instruments"
	if interval != "" {
		path += "?interval=" + url.QueryEscape(interval)
	}
	var out api.InstrumentsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Instruments, nil
}

// Run executes a single backtest.
func (c *Client) Run(ctx context.Context, req Request) (*domain.BacktestResult, error) {
	var out domain.BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunBatch executes a batch and returns the buffered outcome.
func (c *Client) RunBatch(ctx context.Context, req Request) (*stream.BatchResult, error) {
	var out stream.BatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests/batch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invalidate drops the server's cached results for instrumentID and returns
// how many were removed.
func (c *Client) Invalidate(ctx context.Context, instrumentID string) (int, error) {
	var out api.InvalidateResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/cache/"+url.PathEscape(instrumentID), nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Stream runs a batch over Server-Sent Events and calls fn for every event
// in arrival order. It returns when the stream ends, fn returns an error, or
// ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req Request, fn func(Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/backtests/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	// Streams outlive the client timeout; ctx bounds them instead.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(hreq)
	if err != nil {
		return fmt.Errorf("tradelab: stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return readEvents(resp.Body, fn)
}

// readEvents parses an SSE body, decoding each "data:" payload as an Event.
func readEvents(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	var data strings.Builder
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		var ev Event
		err := json.Unmarshal([]byte(data.String()), &ev)
		data.Reset()
		if err != nil {
			return fmt.Errorf("tradelab: decoding event: %w", err)
		}
		return fn(ev)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("tradelab: reading stream: %w", err)
	}
	return flush()
}

// StreamWebSocket runs a batch over the server's WebSocket endpoint and calls
// fn for every event. A rejected request comes back as an *APIError.
// Cancelling ctx closes the socket, which stops the batch on the server.
func (c *Client) StreamWebSocket(ctx context.Context, req Request, fn func(Event) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/backtests/ws")
	if err != nil {
		return err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return decodeError(resp)
		}
		return fmt.Errorf("tradelab: websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("tradelab: websocket: %w", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tradelab: websocket: %w", err)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return fmt.Errorf("tradelab: decoding event: %w", err)
		}
		if head.Type == "" {
			return wsError(conn, data)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("tradelab: decoding event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// wsError turns an ErrorResponse message into an APIError. The close frame
// that follows tells a rejected request apart from a server failure.
func wsError(conn *websocket.Conn, data []byte) error {
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	code := http.StatusBadRequest
	if _, _, err := conn.ReadMessage(); websocket.IsCloseError(err, websocket.CloseInternalServerErr) {
		code = http.StatusInternalServerError
	}
	return &APIError{StatusCode: code, Message: e.Error, Field: e.Field}
}

// StreamGRPC runs a batch over the gRPC API at addr and calls fn for every
// event.
func StreamGRPC(ctx context.Context, addr string, req Request, fn func(Event) error) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	es, err := api.OpenStream(ctx, conn, req)
	if err != nil {
		return err
	}
	for {
		ev, err := es.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tradelab: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tradelab: decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Field: e.Field}
}
