package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	apperr "github.com/saficlean/marketplace/internal/errors"
)

// FCMClient sends push messages through the Firebase Cloud Messaging legacy
// HTTP API.
type FCMClient struct {
	baseURL   string
	serverKey string
	http      *http.Client
}

// NewFCMClient creates the client. baseURL is overridable for tests.
func NewFCMClient(serverKey, baseURL string) *FCMClient {
	if baseURL == "" {
		baseURL = "https://fcm.googleapis.com"
	}
	return &FCMClient{
		baseURL:   baseURL,
		serverKey: serverKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Push delivers a notification to one device token.
func (c *FCMClient) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	payload := map[string]interface{}{
		"to": token,
		"notification": map[string]string{
			"title": title,
			"body":  body,
		},
	}
	if len(data) > 0 {
		payload["data"] = data
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fcm/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.External("fcm", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.External("fcm", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.External("fcm", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if gjson.GetBytes(respBody, "failure").Int() > 0 {
		return apperr.External("fcm", fmt.Errorf("delivery failed: %s",
			gjson.GetBytes(respBody, "results.0.error").String()))
	}
	return nil
}
