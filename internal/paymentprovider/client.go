// Package paymentprovider клиент API платёжного шлюза подписок и разбор его вебхуков.
package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/community-billing/internal/config"
)

var (
	// ErrNotFound подписка не найдена в шлюзе.
	ErrNotFound = errors.New("subscription not found at payment provider")
	// ErrUnexpectedStatus шлюз ответил неожиданным статусом.
	ErrUnexpectedStatus = errors.New("unexpected payment provider response")
)

// Client клиент REST API шлюза с basic-аутентификацией по ключу.
type Client struct {
	keyID      string
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт клиент по настройкам шлюза.
func NewClient(cfg config.PaymentProvider) *Client {
	return &Client{
		keyID:      cfg.ProviderKeyID,
		secretKey:  cfg.ProviderSecret,
		apiURL:     strings.TrimRight(cfg.ProviderAPIURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.secretKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// GetSubscription возвращает подписку по идентификатору шлюза.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	const op = "paymentprovider.GetSubscription"

	req, err := c.newRequest(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %s: %w", op, id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: %s: %w", op, resp.Status, ErrUnexpectedStatus)
	}

	var sub Subscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	return &sub, nil
}
