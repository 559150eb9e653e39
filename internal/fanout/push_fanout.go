package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// PushGateway posts events to an external notification gateway
// (FCM-style HTTP endpoint). Fire-and-forget: a non-2xx response is an
// error for the Multi to log, nothing more.
type PushGateway struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushGateway(endpoint, key string) *PushGateway {
	return &PushGateway{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushGateway) Publish(ctx context.Context, recipientID string, ev models.Event) error {
	body := map[string]any{"message": map[string]any{
		"recipient": recipientID,
		"data":      ev,
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway status %d", resp.StatusCode)
	}
	return nil
}
