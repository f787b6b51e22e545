package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Client talks to the Odoo bookkeeping system over JSON-RPC. One instance is
// safe for concurrent use; requests are paced by a shared rate tick.
type Client struct {
	baseURL  string
	database string
	username string
	password string
	authMu   sync.Mutex
	uid      int
	http     *http.Client
	limiter  <-chan time.Time
	reqID    atomic.Int64
}

// NewClient builds a client from ODOO_URL / ODOO_DB / ODOO_USERNAME /
// ODOO_PASSWORD. Authentication is lazy: the first call logs in.
func NewClient() (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("ODOO_URL")), "/")
	database := strings.TrimSpace(os.Getenv("ODOO_DB"))
	username := strings.TrimSpace(os.Getenv("ODOO_USERNAME"))
	password := strings.TrimSpace(os.Getenv("ODOO_PASSWORD"))
	if baseURL == "" || database == "" || username == "" || password == "" {
		return nil, errors.New("missing odoo env vars (ODOO_URL, ODOO_DB, ODOO_USERNAME, ODOO_PASSWORD)")
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("ODOO_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL:  baseURL,
		database: database,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  time.Tick(interval),
	}, nil
}

// BaseURL returns the configured Odoo root, used to build record deep links.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RecordLink builds the web deep link for one account.move record.
func (c *Client) RecordLink(id int) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("%s/web#id=%d&model=account.move&view_type=form", c.baseURL, id)
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("odoo rpc error %d: %s: %s", e.Code, e.Message, strings.TrimSpace(string(e.Data)))
	}
	return fmt.Sprintf("odoo rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	<-c.limiter

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("odoo api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Result, nil
}

func (c *Client) authenticate(ctx context.Context) (int, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}
	result, err := c.call(ctx, "common", "authenticate", []any{c.database, c.username, c.password, map[string]any{}})
	if err != nil {
		return 0, err
	}
	var uid int
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, errors.New("odoo authentication failed: check credentials")
	}
	c.uid = uid
	return uid, nil
}

func (c *Client) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	callArgs := []any{c.database, uid, c.password, model, method, args}
	if kwargs != nil {
		callArgs = append(callArgs, kwargs)
	}
	return c.call(ctx, "object", "execute_kw", callArgs)
}

const fetchPageSize = 100

// FetchMoves returns every account.move matching the domain, paginated the
// way the upstream API expects (invoice_date desc, id desc).
func (c *Client) FetchMoves(ctx context.Context, domain []Condition) ([]AccountMove, error) {
	offset := 0
	var moves []AccountMove
	for {
		idsRaw, err := c.executeKw(ctx, "account.move", "search", []any{domain}, map[string]any{
			"limit":  fetchPageSize,
			"offset": offset,
			"order":  "invoice_date desc, id desc",
		})
		if err != nil {
			return nil, err
		}
		var ids []int
		if err := json.Unmarshal(idsRaw, &ids); err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		recsRaw, err := c.executeKw(ctx, "account.move", "read", []any{ids}, map[string]any{
			"fields": MoveFields,
		})
		if err != nil {
			return nil, err
		}
		var page []AccountMove
		if err := json.Unmarshal(recsRaw, &page); err != nil {
			return nil, err
		}
		moves = append(moves, page...)

		if len(ids) < fetchPageSize {
			break
		}
		offset += fetchPageSize
	}
	return moves, nil
}
