package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrRateLimited возвращается, если сервер справочника ответил 429.
var ErrRateLimited = errors.New("catalog server rate limited")

// maxCatalogSize ограничивает размер загружаемого справочника.
const maxCatalogSize = 4 << 20

// Client загружает справочник карт с удалённого сервера.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для сервера справочника по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Fetch запрашивает {base}/cards.json и возвращает разобранный справочник.
// При ответе 429 возвращается ErrRateLimited и пауза из заголовка Retry-After.
func (c *Client) Fetch(ctx context.Context) (*Database, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, fmt.Errorf("catalog client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/cards.json", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, retryAfter, ErrRateLimited
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	db, err := Parse(data)
	if err != nil {
		return nil, 0, err
	}
	return db, 0, nil
}

// Refresh загружает справочник через client и заменяет текущий.
// При ограничении частоты выполняется одна повторная попытка после паузы Retry-After.
// При любой ошибке текущий справочник сохраняется.
func (c *Catalog) Refresh(ctx context.Context, client *Client) error {
	db, retryAfter, err := client.Fetch(ctx)
	if errors.Is(err, ErrRateLimited) && retryAfter > 0 {
		c.logger.Warn("catalog server rate limited", zap.Duration("retryAfter", retryAfter))

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		db, _, err = client.Fetch(ctx)
	}
	if err != nil {
		c.logger.Error("catalog refresh failed", zap.Error(err))
		return fmt.Errorf("refresh catalog: %w", err)
	}

	c.swap(db)
	return nil
}
