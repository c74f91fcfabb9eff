package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	apperr "github.com/saficlean/marketplace/internal/errors"
)

// Daraja API endpoints, relative to the configured base URL.
const (
	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// tokenLifetime is slightly under the provider's 3600s so a cached token
	// is never presented right at expiry.
	tokenLifetime = 3500 * time.Second
)

// MpesaConfig configures the Daraja client.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	ShortCode      string
	CallbackURL    string
}

// STKResult is the provider's answer to a push request.
type STKResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	CustomerMessage   string
}

// QueryResult is the provider's answer to a status query.
type QueryResult struct {
	ResultCode int64
	ResultDesc string
}

// MpesaClient talks to the Safaricom Daraja API. Timestamps and the request
// password are derived in Nairobi time as the API requires.
type MpesaClient struct {
	cfg  MpesaConfig
	http *http.Client
	loc  *time.Location
	now  func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewMpesaClient creates the client. An empty base URL targets the sandbox.
func NewMpesaClient(cfg MpesaConfig) (*MpesaClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return nil, fmt.Errorf("load Nairobi timezone: %w", err)
	}
	return &MpesaClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		loc:  loc,
		now:  time.Now,
	}, nil
}

func (c *MpesaClient) timestamp() string {
	return c.now().In(c.loc).Format("20060102150405")
}

func (c *MpesaClient) password(timestamp string) string {
	raw := c.cfg.ShortCode + c.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.External("mpesa", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.External("mpesa", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.External("mpesa",
			fmt.Errorf("oauth status %d: %s", resp.StatusCode, body))
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", apperr.External("mpesa", fmt.Errorf("oauth response missing access_token"))
	}
	c.token = token
	c.tokenExp = c.now().Add(tokenLifetime)
	return token, nil
}

// STKPush asks the customer's phone to authorize a payment. Amounts are
// rounded up to whole shillings, which is all the API accepts.
func (c *MpesaClient) STKPush(ctx context.Context, phone string, amount float64, reference, description string) (STKResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return STKResult{}, err
	}

	shillings := int64(amount)
	if amount > float64(shillings) {
		shillings++
	}
	ts := c.timestamp()
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            shillings,
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	body, err := c.post(ctx, stkPushPath, token, payload)
	if err != nil {
		return STKResult{}, err
	}
	result := STKResult{
		MerchantRequestID: gjson.GetBytes(body, "MerchantRequestID").String(),
		CheckoutRequestID: gjson.GetBytes(body, "CheckoutRequestID").String(),
		ResponseCode:      gjson.GetBytes(body, "ResponseCode").String(),
		CustomerMessage:   gjson.GetBytes(body, "CustomerMessage").String(),
	}
	if result.ResponseCode != "0" {
		return STKResult{}, apperr.External("mpesa",
			fmt.Errorf("push rejected with code %q: %s", result.ResponseCode,
				gjson.GetBytes(body, "errorMessage").String()))
	}
	return result, nil
}

// QueryStatus checks the outcome of a previously pushed request.
func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return QueryResult{}, err
	}

	ts := c.timestamp()
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}
	body, err := c.post(ctx, stkQueryPath, token, payload)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		ResultCode: gjson.GetBytes(body, "ResultCode").Int(),
		ResultDesc: gjson.GetBytes(body, "ResultDesc").String(),
	}, nil
}

func (c *MpesaClient) post(ctx context.Context, path, token string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.External("mpesa", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.External("mpesa", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External("mpesa",
			fmt.Errorf("%s status %d: %s", path, resp.StatusCode, body))
	}
	return body, nil
}
