// internal/clients/ledger_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
	"bookledger/internal/ledger"
)

var (
	ErrUnauthenticated = access.ErrUnauthenticated
	ErrRateLimited     = access.ErrRateLimited
)

// RemoteError is a non-2xx ledger response. It unwraps to the ledger
// sentinel named by its code, so errors.Is works across the wire.
type RemoteError struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("ledger: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("ledger: %s (status %d): %s", e.Code, e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.err
}

// LedgerClient talks to a ledger server. It implements ledger.Service.
type LedgerClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOption configures a LedgerClient.
type ClientOption func(*LedgerClient)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) ClientOption {
	return func(c *LedgerClient) {
		c.token = token
	}
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *LedgerClient) {
		c.http = hc
	}
}

func NewLedgerClient(baseURL string, opts ...ClientOption) *LedgerClient {
	c := &LedgerClient{baseURL: baseURL, http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ledger.Service = (*LedgerClient)(nil)

func (c *LedgerClient) AddBook(ctx context.Context, caller access.Principal, title, author string, price, stock uint64) (uint64, error) {
	body := struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		Price  uint64 `json:"price"`
		Stock  uint64 `json:"stock"`
	}{title, author, price, stock}

	var resp struct {
		ID uint64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/books", caller, body, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *LedgerClient) GetBook(ctx context.Context, id uint64) (*ledger.Book, error) {
	var book ledger.Book
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/books/%d", id), "", nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LedgerClient) GetAllBookIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	if err := c.do(ctx, http.MethodGet, "/books", "", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *LedgerClient) UpdateStock(ctx context.Context, caller access.Principal, id, newStock uint64) error {
	body := struct {
		Stock uint64 `json:"stock"`
	}{newStock}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/books/%d/stock", id), caller, body, nil)
}

func (c *LedgerClient) PurchaseBook(ctx context.Context, buyer access.Principal, id, quantity, payment uint64) (*ledger.Receipt, error) {
	body := struct {
		Quantity uint64 `json:"quantity"`
		Payment  uint64 `json:"payment"`
	}{quantity, payment}

	var receipt ledger.Receipt
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/books/%d/purchase", id), buyer, body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *LedgerClient) AddFavorite(ctx context.Context, p access.Principal, id uint64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/favorites/%d", id), p, nil, nil)
}

func (c *LedgerClient) RemoveFavorite(ctx context.Context, p access.Principal, id uint64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/favorites/%d", id), p, nil, nil)
}

func (c *LedgerClient) IsFavorite(ctx context.Context, p access.Principal, id uint64) (bool, error) {
	var resp struct {
		Favorite bool `json:"favorite"`
	}
	path := fmt.Sprintf("/principals/%s/favorites/%d", url.PathEscape(string(p)), id)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return false, err
	}
	return resp.Favorite, nil
}

func (c *LedgerClient) ListFavorites(ctx context.Context, p access.Principal) ([]uint64, error) {
	var ids []uint64
	path := fmt.Sprintf("/principals/%s/favorites", url.PathEscape(string(p)))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *LedgerClient) Events(ctx context.Context, q ledger.EventQuery) ([]eventlog.Event, error) {
	params := url.Values{}
	params.Set("after", strconv.FormatUint(q.After, 10))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Wait > 0 {
		params.Set("wait", q.Wait.String())
	}

	var events []eventlog.Event
	if err := c.do(ctx, http.MethodGet, "/events?"+params.Encode(), "", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *LedgerClient) do(ctx context.Context, method, path string, caller access.Principal, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set(access.PrincipalHeader, string(caller))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	remote := &RemoteError{Status: resp.StatusCode}

	var body ledger.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Code != "" {
		remote.Code = body.Code
		remote.Message = body.Error
		remote.err = ledger.ErrorForCode(body.Code)
	} else {
		remote.Message = string(bytes.TrimSpace(data))
	}

	if remote.err == nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			remote.err = ErrUnauthenticated
		case http.StatusTooManyRequests:
			remote.err = ErrRateLimited
		}
	}
	return remote
}
