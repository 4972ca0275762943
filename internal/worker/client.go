package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"form-webhook-sync/internal/models"
)

// SyncClient talks to the pull/acknowledge endpoints of the webhook service.
type SyncClient struct {
	baseURL string
	client  *http.Client
}

func NewSyncClient(baseURL string, timeout time.Duration) *SyncClient {
	return &SyncClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *SyncClient) GetUnprocessed(ctx context.Context, limit int) ([]models.Record, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get-unprocessed?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var body models.UnprocessedResponse
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	return body.Records, nil
}

func (c *SyncClient) MarkProcessed(ctx context.Context, ids []string) (int, error) {
	jsonData, err := json.Marshal(models.MarkProcessedRequest{IDs: ids})
	if err != nil {
		return 0, fmt.Errorf("error marshaling mark request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mark-processed", bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var body models.MarkProcessedResponse
	if err := c.do(req, &body); err != nil {
		return 0, err
	}
	return body.Marked, nil
}

func (c *SyncClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
