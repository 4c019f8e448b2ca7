// Package icgateway is a JSON-over-HTTP client for calling canisters
// through a signing gateway. Candid encoding and certificate checks happen
// on the gateway side; this client signs the envelope with the trading
// identity and decodes the typed {ok | err} reply.
package icgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Header names set on every request.
const (
	HeaderSignature = "X-Signature"
	HeaderPublicKey = "X-Public-Key"
)

// Caller is the subset of Client used by the venue and ledger clients.
type Caller interface {
	Query(ctx context.Context, canister, method string, arg, out any) error
	Update(ctx context.Context, canister, method string, arg, out any) error
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Signer is required for update calls; queries are signed when set.
	Signer *crypto.Signer
	// Auth adds API key headers when enabled.
	Auth       *crypto.HMACAuth
	Timeout    time.Duration
	IngressTTL time.Duration
}

// Client calls canisters through the gateway.
type Client struct {
	baseURL    string
	signer     *crypto.Signer
	auth       *crypto.HMACAuth
	ingressTTL time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// New creates a gateway client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.IngressTTL
	if ttl <= 0 {
		ttl = 4 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signer:     cfg.Signer,
		auth:       cfg.Auth,
		ingressTTL: ttl,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// envelope is the signed request body.
type envelope struct {
	CanisterID    string          `json:"canister_id"`
	Method        string          `json:"method"`
	Arg           json.RawMessage `json:"arg"`
	Sender        string          `json:"sender"`
	Nonce         string          `json:"nonce"`
	IngressExpiry int64           `json:"ingress_expiry"`
}

// reply is the gateway's response shape. Exactly one of Ok and Err is set.
type reply struct {
	Ok  json.RawMessage `json:"ok"`
	Err *string         `json:"err"`
}

// RejectError is a call the canister (or the gateway on its behalf)
// answered with an error. It unwraps to the matching domain sentinel.
type RejectError struct {
	Canister string
	Method   string
	Message  string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s.%s rejected: %s", e.Canister, e.Method, e.Message)
}

// Unwrap classifies the rejection text.
func (e *RejectError) Unwrap() error {
	return ClassifyReject(e.Message)
}

// ClassifyReject maps a venue's rejection text to a domain error.
func ClassifyReject(msg string) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "slippage"):
		return domain.ErrSlippageExceeded
	case strings.Contains(m, "enough funds"),
		strings.Contains(m, "insufficient"),
		strings.Contains(m, "insufficientfunds"),
		strings.Contains(m, "insufficientallowance"):
		return domain.ErrInsufficientFunds
	default:
		return domain.ErrRejected
	}
}

// Query performs a read-only call.
func (c *Client) Query(ctx context.Context, canister, method string, arg, out any) error {
	return c.call(ctx, "/api/v2/query", canister, method, arg, out)
}

// Update performs a state-changing call and waits for its reply.
func (c *Client) Update(ctx context.Context, canister, method string, arg, out any) error {
	if c.signer == nil {
		return fmt.Errorf("icgateway: %s.%s: update requires an identity: %w", canister, method, domain.ErrSigningFailed)
	}
	return c.call(ctx, "/api/v2/update", canister, method, arg, out)
}

func (c *Client) call(ctx context.Context, path, canister, method string, arg, out any) error {
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("icgateway: %s.%s: marshal arg: %w", canister, method, err)
	}
	env := envelope{
		CanisterID:    canister,
		Method:        method,
		Arg:           argJSON,
		Sender:        "2vxsx-fae", // anonymous
		Nonce:         uuid.NewString(),
		IngressExpiry: c.now().Add(c.ingressTTL).UnixNano(),
	}
	if c.signer != nil {
		env.Sender = c.signer.Principal()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("icgateway: %s.%s: marshal envelope: %w", canister, method, err)
	}

	respBody, err := c.do(ctx, path, body)
	if err != nil {
		return fmt.Errorf("icgateway: %s.%s: %w", canister, method, err)
	}

	var r reply
	if err := json.Unmarshal(respBody, &r); err != nil {
		return fmt.Errorf("icgateway: %s.%s: decode reply: %w", canister, method, err)
	}
	if r.Err != nil {
		return &RejectError{Canister: canister, Method: method, Message: *r.Err}
	}
	if r.Ok == nil {
		return fmt.Errorf("icgateway: %s.%s: reply has neither ok nor err", canister, method)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Ok, out); err != nil {
		return fmt.Errorf("icgateway: %s.%s: decode ok: %w", canister, method, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.signer != nil {
		sig, err := c.signer.Sign(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
		}
		req.Header.Set(HeaderSignature, sig)
		req.Header.Set(HeaderPublicKey, fmt.Sprintf("%x", c.signer.PublicKeyDER()))
	}
	if c.auth.Enabled() {
		for k, v := range c.auth.Headers(http.MethodPost, path, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func checkStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	// Some gateways answer rejects with 4xx and the usual {err} body.
	var r reply
	if json.Unmarshal(body, &r) == nil && r.Err != nil {
		return &RejectError{Message: *r.Err}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	se := &StatusError{Code: code, Body: msg}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Join(domain.ErrUnauthorized, se)
	default:
		return se
	}
}

var _ Caller = (*Client)(nil)
