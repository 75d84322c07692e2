package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ProviderEvent is one event as the provider itself reports it.
type ProviderEvent struct {
	ID        string
	Type      string
	CreatedAt int64
	Raw       []byte
}

// ProviderClient pulls a provider's own event listing for a window. One
// implementation per supported provider; credentials arrive decrypted.
type ProviderClient interface {
	ListEvents(ctx context.Context, apiKey string, since, until int64) ([]ProviderEvent, error)
}

// StripeClient lists events from the Stripe API, paginating until the window
// is exhausted.
type StripeClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewStripeClient(timeout time.Duration) *StripeClient {
	return &StripeClient{
		BaseURL:    "https://api.stripe.com",
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type stripeEventPage struct {
	Data []struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Created int64           `json:"created"`
		Data    json.RawMessage `json:"data"`
	} `json:"data"`
	HasMore bool `json:"has_more"`
}

func (c *StripeClient) ListEvents(ctx context.Context, apiKey string, since, until int64) ([]ProviderEvent, error) {
	var events []ProviderEvent
	startingAfter := ""

	for {
		page, err := c.fetchPage(ctx, apiKey, since, until, startingAfter)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			raw, _ := json.Marshal(item)
			events = append(events, ProviderEvent{
				ID:        item.ID,
				Type:      item.Type,
				CreatedAt: item.Created,
				Raw:       raw,
			})
		}
		if !page.HasMore || len(page.Data) == 0 {
			return events, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}
}

func (c *StripeClient) fetchPage(ctx context.Context, apiKey string, since, until int64, startingAfter string) (*stripeEventPage, error) {
	params := url.Values{}
	params.Set("created[gte]", strconv.FormatInt(since, 10))
	params.Set("created[lte]", strconv.FormatInt(until, 10))
	params.Set("limit", "100")
	if startingAfter != "" {
		params.Set("starting_after", startingAfter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/events?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.New("provider rejected credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var page stripeEventPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
