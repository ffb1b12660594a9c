// Package remote talks to the authoritative auction REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logger.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) ListAuctions(ctx context.Context) ([]domain.Auction, error) {
	var auctions []domain.Auction
	if err := c.do(ctx, http.MethodGet, "/auctions", nil, &auctions); err != nil {
		return nil, err
	}
	return auctions, nil
}

func (c *Client) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	var auction domain.Auction
	if err := c.do(ctx, http.MethodGet, "/auctions/"+url.PathEscape(auctionID), nil, &auction); err != nil {
		return nil, err
	}
	return &auction, nil
}

func (c *Client) UpdateAuction(ctx context.Context, auctionID string, update domain.AuctionUpdate) (*domain.Auction, error) {
	var auction domain.Auction
	if err := c.do(ctx, http.MethodPut, "/auctions/"+url.PathEscape(auctionID), update, &auction); err != nil {
		return nil, err
	}
	return &auction, nil
}

func (c *Client) DeleteAuction(ctx context.Context, auctionID string) error {
	return c.do(ctx, http.MethodDelete, "/auctions/"+url.PathEscape(auctionID), nil, nil)
}

func (c *Client) VerifyWinner(ctx context.Context, auctionID string) (*domain.Auction, error) {
	var auction domain.Auction
	path := "/auctions/" + url.PathEscape(auctionID) + "/verify-winner"
	if err := c.do(ctx, http.MethodPost, path, nil, &auction); err != nil {
		return nil, err
	}
	return &auction, nil
}

func (c *Client) ListKoi(ctx context.Context) ([]domain.Koi, error) {
	var koi []domain.Koi
	if err := c.do(ctx, http.MethodGet, "/koi", nil, &koi); err != nil {
		return nil, err
	}
	return koi, nil
}

func (c *Client) GetKoi(ctx context.Context, koiID string) (*domain.Koi, error) {
	var koi domain.Koi
	if err := c.do(ctx, http.MethodGet, "/koi/"+url.PathEscape(koiID), nil, &koi); err != nil {
		return nil, err
	}
	return &koi, nil
}

func (c *Client) UpdateKoiStatus(ctx context.Context, koiID string, status domain.KoiStatus) (*domain.Koi, error) {
	var koi domain.Koi
	body := map[string]domain.KoiStatus{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/koi/"+url.PathEscape(koiID)+"/status", body, &koi); err != nil {
		return nil, err
	}
	return &koi, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp)
		c.log.Warn("Remote API rejected request", "method", method, "path", path,
			"status", resp.StatusCode, "message", apiErr.Message)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseError(resp *http.Response) *domain.APIError {
	apiErr := &domain.APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		if eb.Message != "" {
			apiErr.Message = eb.Message
		} else {
			apiErr.Message = eb.Error
		}
	}
	return apiErr
}
