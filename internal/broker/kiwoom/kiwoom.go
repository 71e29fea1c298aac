package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"trend-trader/internal/api"
	"trend-trader/internal/interfaces"
	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

const (
	pathToken    = "/oauth2/token"
	pathAccount  = "/api/dostk/acnt"
	pathOrder    = "/api/dostk/ordr"
	pathCredit   = "/api/dostk/crdordr"
	pathStock    = "/api/dostk/stkinfo"
	pathChart    = "/api/dostk/chart"
	maxPages     = 100
	tokenLeeway  = 5 * time.Minute
	expiryLayout = "20060102150405"
)

// Params configures the Kiwoom REST and websocket collaborator.
type Params struct {
	AppKey       string
	SecretKey    string
	Account      string
	BaseURL      string
	WebsocketURL string
	MinInterval  time.Duration
	Timeout      time.Duration
	MaxRetries   int
	Location     *time.Location
}

// Kiwoom implements interfaces.Broker against the Kiwoom REST API.
type Kiwoom struct {
	p      Params
	client *api.Client
	retry  *api.RetryConfig
	loc    *time.Location
	now    func() time.Time

	tokenMu sync.Mutex
	token   string
	expires time.Time
}

var _ interfaces.Broker = (*Kiwoom)(nil)

func New(p Params) *Kiwoom {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := api.DefaultRetryConfig()
	if p.MaxRetries > 0 {
		retry.MaxAttempts = p.MaxRetries
	}
	return &Kiwoom{
		p: p,
		client: api.NewClient(
			api.WithBaseURL(strings.TrimRight(p.BaseURL, "/")),
			api.WithTimeout(timeout),
			api.WithMinInterval(p.MinInterval),
			api.WithLogging(true),
		),
		retry: retry,
		loc:   loc,
		now:   time.Now,
	}
}

type envelope struct {
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

type tokenResponse struct {
	envelope
	Token     string `json:"token"`
	ExpiresDt string `json:"expires_dt"`
}

// accessToken returns the cached token, issuing a new one when missing or
// about to expire.
func (k *Kiwoom) accessToken(ctx context.Context) (string, error) {
	k.tokenMu.Lock()
	defer k.tokenMu.Unlock()

	if k.token != "" && k.now().Add(tokenLeeway).Before(k.expires) {
		return k.token, nil
	}
	if k.p.AppKey == "" || k.p.SecretKey == "" {
		return "", errors.New("kiwoom: missing app key or secret key")
	}

	resp, err := k.client.POST(ctx, pathToken, map[string]string{
		"grant_type": "client_credentials",
		"appkey":     k.p.AppKey,
		"secretkey":  k.p.SecretKey,
	})
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	var tr tokenResponse
	if err := resp.ParseJSON(&tr); err != nil {
		return "", err
	}
	if err := classify(tr.ReturnCode, tr.ReturnMsg); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	if tr.Token == "" {
		return "", errors.New("issue token: empty token")
	}

	k.token = tr.Token
	k.expires = k.now().Add(12 * time.Hour)
	if exp, err := time.ParseInLocation(expiryLayout, tr.ExpiresDt, k.loc); err == nil {
		k.expires = exp
	}
	logger.Info(ctx, "Kiwoom access token issued", "expires", k.expires)
	return k.token, nil
}

// invalidateToken drops used so the next call issues a fresh one. A token
// already replaced by another caller is left alone.
func (k *Kiwoom) invalidateToken(used string) {
	k.tokenMu.Lock()
	defer k.tokenMu.Unlock()
	if k.token == used {
		k.token = ""
	}
}

// page is one response of a possibly continued query.
type page struct {
	body    []byte
	nextKey string
	more    bool
}

// send posts one request. An auth failure refreshes the token and retries
// exactly once.
func (k *Kiwoom) send(ctx context.Context, path, apiID string, body any, nextKey string) (page, error) {
	p, err := k.sendOnce(ctx, path, apiID, body, nextKey)
	if !errors.Is(err, types.ErrAuthExpired) {
		return p, err
	}
	logger.Warn(ctx, "Kiwoom token rejected, refreshing once", "api_id", apiID)
	return k.sendOnce(ctx, path, apiID, body, nextKey)
}

func (k *Kiwoom) sendOnce(ctx context.Context, path, apiID string, body any, nextKey string) (page, error) {
	token, err := k.accessToken(ctx)
	if err != nil {
		return page{}, err
	}
	headers := map[string]string{
		"authorization": "Bearer " + token,
		"api-id":        apiID,
	}
	if nextKey != "" {
		headers["cont-yn"] = "Y"
		headers["next-key"] = nextKey
	}

	resp, err := k.client.POST(ctx, path, body, headers)
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
			k.invalidateToken(token)
		}
		return page{}, fmt.Errorf("%s: %w", apiID, err)
	}

	var env envelope
	if err := resp.ParseJSON(&env); err != nil {
		return page{}, fmt.Errorf("%s: %w", apiID, err)
	}
	if err := classify(env.ReturnCode, env.ReturnMsg); err != nil {
		if errors.Is(err, types.ErrAuthExpired) {
			k.invalidateToken(token)
		}
		return page{}, fmt.Errorf("%s: %w", apiID, err)
	}
	return page{
		body:    resp.Body,
		nextKey: resp.Headers.Get("next-key"),
		more:    resp.Headers.Get("cont-yn") == "Y",
	}, nil
}

// query is a read-only request, retried with backoff on rate limits.
func (k *Kiwoom) query(ctx context.Context, path, apiID string, body any, nextKey string) (page, error) {
	return api.DoWithRetry(ctx, k.retry, func() (page, error) {
		return k.send(ctx, path, apiID, body, nextKey)
	})
}

// paginate follows cont-yn/next-key until the server reports no more data.
func (k *Kiwoom) paginate(ctx context.Context, path, apiID string, body any, each func([]byte) error) error {
	next := ""
	for i := 0; i < maxPages; i++ {
		p, err := k.query(ctx, path, apiID, body, next)
		if err != nil {
			return err
		}
		if err := each(p.body); err != nil {
			return fmt.Errorf("%s: decode page %d: %w", apiID, i+1, err)
		}
		if !p.more || p.nextKey == "" {
			return nil
		}
		next = p.nextKey
	}
	logger.Warn(ctx, "Pagination stopped at page limit", "api_id", apiID, "pages", maxPages)
	return nil
}

// classify maps a Kiwoom return code and message onto the shared error
// kinds. Messages are matched because codes are not stable across APIs.
func classify(code int, msg string) error {
	if code == 0 {
		return nil
	}
	be := &types.BrokerError{Code: code, Message: msg}
	lower := strings.ToLower(msg)
	switch {
	case code == 3 || strings.Contains(msg, "8005") || strings.Contains(lower, "token") || strings.Contains(msg, "토큰"):
		be.Kind = types.ErrAuthExpired
	case code == 5 || strings.Contains(msg, "1700") || strings.Contains(msg, "허용된 요청"):
		be.Kind = types.ErrRateLimited
	case (strings.Contains(msg, "신용") || strings.Contains(msg, "융자")) && (strings.Contains(msg, "한도") || strings.Contains(msg, "초과") || strings.Contains(msg, "부족")):
		be.Kind = types.ErrCreditLimit
	}
	return be
}

func decode(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
