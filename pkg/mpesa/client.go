package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	transactionType        = "CustomerPayBillOnline"
	acceptResponseCode     = "0"
	timestampLayout        = "20060102150405"
	maxAccountReferenceLen = 12
	maxDescriptionLen      = 13

	responseBodyReadLimit int64 = 4096
)

// The provider validates timestamps against East Africa Time.
var providerZone = time.FixedZone("EAT", 3*60*60)

// Client wraps the Daraja token and STK push endpoints. It keeps no state
// between calls beyond its immutable configuration.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the provider base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithEnvironment selects the sandbox or production base URL.
func WithEnvironment(env string) Option {
	return func(c *Client) {
		switch strings.ToLower(strings.TrimSpace(env)) {
		case "production", "prod", "live":
			c.baseURL = ProductionBaseURL
		case "sandbox", "":
			c.baseURL = SandboxBaseURL
		}
	}
}

// WithClock overrides the timestamp source used to sign push requests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds the provider client. Incomplete credentials are rejected so
// a client never runs with blank secrets.
func NewClient(creds Credentials, opts ...Option) (*Client, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, &MissingCredentialError{Fields: missing}
	}

	client := &Client{
		creds:      creds,
		baseURL:    SandboxBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// PushRequest is one STK push. PayerIdentifier must already be normalized.
type PushRequest struct {
	PayerIdentifier  string
	Amount           int64
	CallbackURL      string
	AccountReference string
	Description      string
}

// PushResult holds the tokens minted by the provider on accept.
type PushResult struct {
	CorrelationToken string
	SecondaryToken   string
	CustomerMessage  string
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	RequestID           string `json:"requestId"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// Password signs a push request: base64(shortcode + passkey + timestamp).
func Password(shortcode, passkey string, at time.Time) (password, timestamp string) {
	timestamp = at.In(providerZone).Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// GetAccessToken exchanges the consumer key/secret for a bearer token. Tokens
// are not cached; every push fetches a fresh one.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "mpesa client not configured")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(tokenPath), nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrNetworkFailure, err), "build token request")
	}
	httpReq.SetBasicAuth(c.creds.ConsumerKey, c.creds.ConsumerSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrNetworkFailure, err), "execute token request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		cause := fmt.Errorf("%w: status %d: %s", ErrAuthFailure, resp.StatusCode, strings.TrimSpace(string(msg)))
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "token request failed")
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(&tokenResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrAuthFailure, err), "decode token response")
	}
	if strings.TrimSpace(tokenResp.AccessToken) == "" {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: empty access token", ErrAuthFailure), "token request failed")
	}
	return tokenResp.AccessToken, nil
}

// InitiatePush submits an STK push. A non-accept response code yields an error
// matching ErrProviderRejected; transport problems and provider outages match
// ErrNetworkFailure. Nothing is retried here.
func (c *Client) InitiatePush(ctx context.Context, req PushRequest) (PushResult, error) {
	if c == nil {
		return PushResult{}, pkgerrors.New(pkgerrors.CodeDependency, "mpesa client not configured")
	}
	if req.Amount <= 0 {
		return PushResult{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(req.PayerIdentifier) == "" {
		return PushResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payer identifier is required")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return PushResult{}, pkgerrors.New(pkgerrors.CodeValidation, "callback url is required")
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return PushResult{}, err
	}

	password, timestamp := Password(c.creds.Shortcode, c.creds.Passkey, c.now())
	payload := pushPayload{
		BusinessShortCode: c.creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.Amount,
		PartyA:            req.PayerIdentifier,
		PartyB:            c.creds.Shortcode,
		PhoneNumber:       req.PayerIdentifier,
		CallBackURL:       req.CallbackURL,
		AccountReference:  truncate(req.AccountReference, maxAccountReferenceLen),
		TransactionDesc:   truncate(req.Description, maxDescriptionLen),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal push request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(pushPath), bytes.NewReader(body))
	if err != nil {
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrNetworkFailure, err), "build push request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrNetworkFailure, err), "execute push request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrNetworkFailure, err), "read push response")
	}

	var decoded pushResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= http.StatusInternalServerError {
		cause := fmt.Errorf("%w: status %d: %s", ErrNetworkFailure, resp.StatusCode, strings.TrimSpace(string(raw)))
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "push request failed")
	}
	if decodeErr != nil {
		cause := fmt.Errorf("%w: status %d: undecodable body", ErrNetworkFailure, resp.StatusCode)
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "decode push response")
	}

	if resp.StatusCode != http.StatusOK || decoded.ResponseCode != acceptResponseCode {
		rejected := &RejectedError{
			ResponseCode: firstNonEmpty(decoded.ResponseCode, decoded.ErrorCode),
			Message:      firstNonEmpty(decoded.ErrorMessage, decoded.ResponseDescription, http.StatusText(resp.StatusCode)),
		}
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeProviderRejected, rejected, rejected.Message).
			WithDetails(map[string]any{"providerCode": rejected.ResponseCode, "providerMessage": rejected.Message})
	}

	if strings.TrimSpace(decoded.CheckoutRequestID) == "" {
		cause := errors.New("accepted push carried no checkout request id")
		return PushResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrNetworkFailure, cause), "push response incomplete")
	}

	return PushResult{
		CorrelationToken: decoded.CheckoutRequestID,
		SecondaryToken:   decoded.MerchantRequestID,
		CustomerMessage:  decoded.CustomerMessage,
	}, nil
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max]
}
