// Package broker provides trading API clients for submitting options orders.
// It includes the TastyTrade REST client used for market data, option chain
// listings, and multi-leg spread order submission.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mfinley/vertigo/internal/models"
)

// Default endpoints for the two TastyTrade environments.
const (
	ProductionURL      = "https://api.tastyworks.com"
	SandboxURL         = "https://api.cert.tastyworks.com"
	ProductionOAuthURL = "https://api.tastyworks.com"
	SandboxOAuthURL    = "https://api.cert.tastyworks.com"
)

// Order payload constants. The API expects these exact spellings.
const (
	timeInForceDay         = "Day"
	orderTypeLimit         = "Limit"
	instrumentEquityOption = "Equity Option"
)

// errorBodyLimit caps how much of an error response is retained. Rejection
// text is surfaced to the operator verbatim, so keep enough to be useful
// without buffering runaway payloads.
const errorBodyLimit = 64 << 10

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// flexFloat decodes numeric fields that the API serves inconsistently as
// bare JSON numbers or quoted strings ("48123903", "663.50"). Null and
// empty-string values decode to zero.
type flexFloat float64

// UnmarshalJSON implements json.Unmarshaler for flexFloat.
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("flexFloat: parse %q: %w", s, err)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// marketDataResponse wraps GET /market-data/{symbol}.
type marketDataResponse struct {
	Data struct {
		Items []marketDataItem `json:"items"`
	} `json:"data"`
}

type marketDataItem struct {
	Symbol       string    `json:"symbol"`
	Last         flexFloat `json:"last"`
	Mid          flexFloat `json:"mid"`
	Mark         flexFloat `json:"mark"`
	Bid          flexFloat `json:"bid"`
	Ask          flexFloat `json:"ask"`
	Volume       flexFloat `json:"volume"`
	OpenInterest flexFloat `json:"open-interest"`
	Close        flexFloat `json:"close"`
	PrevClose    flexFloat `json:"prev-close"`
}

// optionChainResponse wraps GET /option-chains/{symbol}.
type optionChainResponse struct {
	Data struct {
		Items []optionChainItem `json:"items"`
	} `json:"data"`
}

type optionChainItem struct {
	Symbol           string    `json:"symbol"`
	UnderlyingSymbol string    `json:"underlying-symbol"`
	RootSymbol       string    `json:"root-symbol"`
	ExpirationDate   string    `json:"expiration-date"`
	OptionType       string    `json:"option-type"`
	StrikePrice      flexFloat `json:"strike-price"`
	DaysToExpiration int       `json:"days-to-expiration"`
}

// accountsResponse wraps GET /accounts. Each entry nests the account fields
// under an "account" object.
type accountsResponse struct {
	Data []struct {
		Account struct {
			AccountNumber string `json:"account-number"`
		} `json:"account"`
	} `json:"data"`
}

// orderPayload is the JSON body for POST /accounts/{account}/orders.
type orderPayload struct {
	TimeInForce string     `json:"time-in-force"`
	OrderType   string     `json:"order-type"`
	Price       float64    `json:"price"`
	PriceEffect string     `json:"price-effect"`
	Legs        []orderLeg `json:"legs"`
}

type orderLeg struct {
	InstrumentType string `json:"instrument-type"`
	Symbol         string `json:"symbol"`
	Quantity       int    `json:"quantity"`
	Action         string `json:"action"`
}

// submitOrderResponse wraps the 201 body from order submission.
type submitOrderResponse struct {
	Data struct {
		Order struct {
			ID     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
	} `json:"data"`
}

// orderStatusResponse wraps GET /accounts/{account}/orders/{id}. Unlike
// submission, the order fields sit directly under data.
type orderStatusResponse struct {
	Data struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	} `json:"data"`
}

// TastyTradeAPI is the REST client for the TastyTrade brokerage API.
type TastyTradeAPI struct {
	client  *http.Client
	baseURL string
	logger  *logrus.Logger
	tokens  TokenSource
	timeout time.Duration

	mu        sync.Mutex // guards auth
	refreshMu sync.Mutex // serializes token refreshes
	auth      AuthContext
}

// NewTastyTradeAPI creates a client for the given environment with default
// settings. tokens may be nil, in which case expired credentials surface as
// AuthExpired without a refresh attempt.
func NewTastyTradeAPI(auth AuthContext, tokens TokenSource, sandbox bool, logger *logrus.Logger) *TastyTradeAPI {
	return NewTastyTradeAPIWithBaseURL(auth, tokens, sandbox, "", logger)
}

// NewTastyTradeAPIWithBaseURL creates a client against a custom base URL.
// An empty baseURL selects the environment default.
func NewTastyTradeAPIWithBaseURL(auth AuthContext, tokens TokenSource, sandbox bool,
	baseURL string, logger *logrus.Logger) *TastyTradeAPI {
	if logger == nil {
		panic("broker: logger is required")
	}

	if baseURL == "" {
		if sandbox {
			baseURL = SandboxURL
		} else {
			baseURL = ProductionURL
		}
	}
	// Normalize once
	baseURL = strings.TrimRight(baseURL, "/")

	const defaultTimeout = 10 * time.Second
	return &TastyTradeAPI{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: baseURL,
		logger:  logger,
		tokens:  tokens,
		timeout: defaultTimeout,
		auth:    auth,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TastyTradeAPI) WithHTTPClient(c *http.Client) *TastyTradeAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// WithTimeout sets the HTTP request timeout.
func (t *TastyTradeAPI) WithTimeout(timeout time.Duration) *TastyTradeAPI {
	if timeout > 0 {
		t.timeout = timeout
		if t.client != nil {
			t.client.Timeout = timeout
		}
	}
	return t
}

// GetMarketQuote fetches the latest quote for a symbol. The endpoint serves
// both underlyings ("SPY") and padded OCC option symbols.
func (t *TastyTradeAPI) GetMarketQuote(ctx context.Context, symbol string) (*MarketQuote, error) {
	endpoint := fmt.Sprintf("%s/market-data/%s", t.baseURL, url.PathEscape(symbol))

	var response marketDataResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Data.Items) == 0 {
		return nil, fmt.Errorf("no market data returned for %s", symbol)
	}

	item := response.Data.Items[0]
	prevClose := float64(item.PrevClose)
	if prevClose == 0 {
		prevClose = float64(item.Close)
	}
	return &MarketQuote{
		Symbol:       item.Symbol,
		Last:         float64(item.Last),
		Mid:          float64(item.Mid),
		Mark:         float64(item.Mark),
		Bid:          float64(item.Bid),
		Ask:          float64(item.Ask),
		Volume:       int64(item.Volume),
		OpenInterest: int64(item.OpenInterest),
		PrevClose:    prevClose,
	}, nil
}

// ListOptionSymbols fetches the full chain listing for an underlying. The
// listing covers every served expiration; callers narrow it down.
func (t *TastyTradeAPI) ListOptionSymbols(ctx context.Context, underlying string) ([]OptionListing, error) {
	endpoint := fmt.Sprintf("%s/option-chains/%s", t.baseURL, url.PathEscape(underlying))

	var response optionChainResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	listings := make([]OptionListing, 0, len(response.Data.Items))
	for _, item := range response.Data.Items {
		listings = append(listings, OptionListing{
			Symbol:     item.Symbol,
			Underlying: item.UnderlyingSymbol,
			Root:       item.RootSymbol,
			Expiration: item.ExpirationDate,
			OptionType: item.OptionType,
			Strike:     float64(item.StrikePrice),
			DTE:        item.DaysToExpiration,
		})
	}

	t.logger.WithFields(logrus.Fields{
		"underlying": underlying,
		"listings":   len(listings),
	}).Debug("Fetched option chain listing")
	return listings, nil
}

// GetAccountNumber returns the trading account number, preferring the
// configured value and falling back to account discovery. Discovered numbers
// are cached on the auth context.
func (t *TastyTradeAPI) GetAccountNumber(ctx context.Context) (string, error) {
	if auth := t.currentAuth(); auth.AccountNumber != "" {
		return auth.AccountNumber, nil
	}

	endpoint := fmt.Sprintf("%s/accounts", t.baseURL)
	var response accountsResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return "", err
	}
	if len(response.Data) == 0 {
		return "", errors.New("no accounts returned for authenticated user")
	}

	number := response.Data[0].Account.AccountNumber
	if number == "" {
		return "", errors.New("account discovery returned an empty account number")
	}

	t.mu.Lock()
	t.auth.AccountNumber = number
	t.mu.Unlock()

	t.logger.WithField("account", number).Info("Discovered trading account number")
	return number, nil
}

// SubmitOrder posts a spread order and classifies the broker's verdict.
// Transport failures return an error; broker verdicts (accepted, rejected,
// expired auth) return an OrderResult. A 401 is retried exactly once after
// a token refresh before being classified as AuthExpired.
func (t *TastyTradeAPI) SubmitOrder(ctx context.Context, order models.SpreadOrder) (*OrderResult, error) {
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spread order: %w", err)
	}

	account, err := t.GetAccountNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve account number: %w", err)
	}

	effect, err := wirePriceEffect(order.PriceEffect)
	if err != nil {
		return nil, err
	}
	payload := orderPayload{
		TimeInForce: timeInForceDay,
		OrderType:   orderTypeLimit,
		Price:       order.LimitPrice,
		PriceEffect: effect,
		Legs:        make([]orderLeg, 0, len(order.Legs)),
	}
	for _, leg := range order.Legs {
		action, err := wireAction(leg.Action)
		if err != nil {
			return nil, err
		}
		payload.Legs = append(payload.Legs, orderLeg{
			InstrumentType: instrumentEquityOption,
			Symbol:         leg.Symbol,
			Quantity:       leg.Quantity,
			Action:         action,
		})
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders", t.baseURL, url.PathEscape(account))

	var response submitOrderResponse
	err = t.makeRequestCtx(ctx, http.MethodPost, endpoint, payload, &response)
	if err == nil {
		result := &OrderResult{
			Outcome: OutcomeAccepted,
			OrderID: response.Data.Order.ID.String(),
			Status:  response.Data.Order.Status,
		}
		t.logger.WithFields(logrus.Fields{
			"order_id": result.OrderID,
			"status":   result.Status,
		}).Info("Spread order accepted by broker")
		return result, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, err
	}
	if apiErr.Status == http.StatusUnauthorized {
		// makeRequestCtx already refreshed and retried once.
		t.logger.Warn("Order submission failed authentication after token refresh")
		return &OrderResult{Outcome: OutcomeAuthExpired, Body: apiErr.Body}, nil
	}

	t.logger.WithField("status", apiErr.Status).Warn("Spread order rejected by broker")
	return &OrderResult{Outcome: OutcomeRejected, Body: apiErr.Body}, nil
}

// GetOrderStatus polls the broker's verbatim status string for an order.
func (t *TastyTradeAPI) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	account, err := t.GetAccountNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve account number: %w", err)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/orders/%s",
		t.baseURL, url.PathEscape(account), url.PathEscape(orderID))

	var response orderStatusResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return "", err
	}
	return response.Data.Status, nil
}

func wireAction(a models.LegAction) (string, error) {
	switch a {
	case models.SellToOpen:
		return "Sell to Open", nil
	case models.BuyToOpen:
		return "Buy to Open", nil
	default:
		return "", fmt.Errorf("unsupported leg action %q", a)
	}
}

func wirePriceEffect(p models.PriceEffect) (string, error) {
	switch p {
	case models.Credit:
		return "Credit", nil
	case models.Debit:
		return "Debit", nil
	default:
		return "", fmt.Errorf("unsupported price effect %q", p)
	}
}

// currentAuth snapshots the auth context for a single request.
func (t *TastyTradeAPI) currentAuth() AuthContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.auth
}

// refreshAuth swaps in a fresh auth context after a 401. The stale context
// is compared first so concurrent callers refresh at most once per expiry.
func (t *TastyTradeAPI) refreshAuth(ctx context.Context, stale AuthContext) (AuthContext, error) {
	if t.tokens == nil {
		return AuthContext{}, errors.New("no token source configured")
	}

	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	if cur := t.currentAuth(); cur.Token != stale.Token {
		return cur, nil
	}

	fresh, err := t.tokens.Refresh(ctx)
	if err != nil {
		return AuthContext{}, fmt.Errorf("refresh access token: %w", err)
	}
	if fresh.AccountNumber == "" {
		fresh.AccountNumber = stale.AccountNumber
	}

	t.mu.Lock()
	t.auth = fresh
	t.mu.Unlock()

	t.logger.Info("Access token refreshed after 401 response")
	return fresh, nil
}

// makeRequestCtx performs one authenticated request and decodes the JSON
// response. A 401 triggers a single token refresh and one retry; the second
// response is final either way.
func (t *TastyTradeAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	body, response interface{}) error {
	auth := t.currentAuth()
	err := t.doRequest(ctx, auth, method, endpoint, body, response)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	fresh, refreshErr := t.refreshAuth(ctx, auth)
	if refreshErr != nil {
		t.logger.WithError(refreshErr).Warn("Token refresh after 401 failed")
		return err
	}
	return t.doRequest(ctx, fresh, method, endpoint, body, response)
}

// doRequest executes one HTTP round trip with the given auth context.
// Non-2xx responses return an *APIError whose Body is the verbatim
// response text.
func (t *TastyTradeAPI) doRequest(ctx context.Context, auth AuthContext, method, endpoint string,
	body, response interface{}) error {
	var req *http.Request
	var err error

	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("encode request body: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/json")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+auth.Token)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "vertigo/1.0 (+tastytrade)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.WithError(cerr).Debug("Failed to close response body")
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// OAuthTokenSource refreshes access tokens through the TastyTrade OAuth
// endpoint using a long-lived refresh token.
type OAuthTokenSource struct {
	oauthURL      string
	clientSecret  string
	refreshToken  string
	accountNumber string
	client        *http.Client
}

// NewOAuthTokenSource builds a token source against the given OAuth base
// URL. accountNumber may be empty; discovered numbers are preserved across
// refreshes by the API client.
func NewOAuthTokenSource(oauthURL, clientSecret, refreshToken, accountNumber string) *OAuthTokenSource {
	return &OAuthTokenSource{
		oauthURL:      strings.TrimRight(oauthURL, "/"),
		clientSecret:  clientSecret,
		refreshToken:  refreshToken,
		accountNumber: accountNumber,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (s *OAuthTokenSource) WithHTTPClient(c *http.Client) *OAuthTokenSource {
	if c != nil {
		s.client = c
	}
	return s
}

// Refresh exchanges the refresh token for a new access token.
func (s *OAuthTokenSource) Refresh(ctx context.Context) (AuthContext, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.refreshToken)
	form.Set("client_secret", s.clientSecret)

	endpoint := s.oauthURL + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return AuthContext{}, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return AuthContext{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return AuthContext{}, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return AuthContext{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return AuthContext{}, errors.New("token response missing access_token")
	}

	return AuthContext{Token: token.AccessToken, AccountNumber: s.accountNumber}, nil
}
