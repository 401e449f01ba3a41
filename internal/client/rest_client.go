package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"toy-exchange-go/internal/config"
)

const apiPrefix = "/api/v1"

// APIError is a non-retryable error response from the exchange.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the exchange.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RestClientInterface defines the interface for the exchange REST API client.
type RestClientInterface interface {
	Register(ctx context.Context, name string) (*User, error)
	Cash(ctx context.Context, userID uint) (string, error)
	Portfolio(ctx context.Context, userID uint) (map[string]string, error)
	Operations(ctx context.Context, userID uint) ([]Operation, error)
	Buy(ctx context.Context, userID uint, currency, quantity string) (*TradeResult, error)
	Sell(ctx context.Context, userID uint, currency, quantity string) (*TradeResult, error)
	Rates(ctx context.Context) (map[string]Rate, error)
	AddCurrency(ctx context.Context, symbol, sellPrice, buyPrice string) (*Currency, error)
}

// RestClient is a client for the exchange REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration // first retry delay, doubled per attempt
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new exchange API client.
func NewRestClient(cfg *config.Client, logger *zap.Logger) *RestClient {
	return &RestClient{
		client:  resty.New().SetBaseURL(cfg.BaseURL),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		backoff: time.Second,
	}
}

// User is a registered user.
type User struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Cash string `json:"cash"`
}

// Operation is one entry of a user's trade history.
type Operation struct {
	Action   string `json:"action"`
	Currency string `json:"currency"`
	Quantity string `json:"quantity"`
}

// TradeResult is the outcome of a buy or sell. Declined is set when the
// exchange refused the trade for lack of cash or currency.
type TradeResult struct {
	Currency string `json:"currency"`
	Cash     string `json:"cash"`
	Quantity string `json:"quantity"`
	Error    string `json:"error,omitempty"`
	Declined bool   `json:"-"`
}

// Rate is a currency's current prices.
type Rate struct {
	SellPrice string `json:"sell_price"`
	BuyPrice  string `json:"buy_price"`
}

// Currency is a listed currency.
type Currency struct {
	Symbol    string `json:"symbol"`
	SellPrice string `json:"sell_price"`
	BuyPrice  string `json:"buy_price"`
}

type errorBody struct {
	Error string `json:"error"`
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	req.SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Request-Id", uuid.NewString())

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			if !shouldRetry {
				return resp, decodeAPIError(resp)
			}
			err = decodeAPIError(resp)
		} else {
			// Network or other client-side errors
			shouldRetry = true
		}

		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

func decodeAPIError(resp *resty.Response) error {
	var body errorBody
	msg := resp.String()
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: msg}
}

// Register creates a user.
func (c *RestClient) Register(ctx context.Context, name string) (*User, error) {
	req := c.client.R().SetBody(map[string]string{"name": name}).SetResult(&User{})
	resp, err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/users", req)
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	return resp.Result().(*User), nil
}

// Cash returns a user's cash balance.
func (c *RestClient) Cash(ctx context.Context, userID uint) (string, error) {
	var out struct {
		Cash string `json:"cash"`
	}
	req := c.client.R().SetResult(&out)
	if _, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d/cash", apiPrefix, userID), req); err != nil {
		return "", fmt.Errorf("failed to get cash: %w", err)
	}
	return out.Cash, nil
}

// Portfolio returns a user's holdings.
func (c *RestClient) Portfolio(ctx context.Context, userID uint) (map[string]string, error) {
	var out struct {
		Portfolio map[string]string `json:"portfolio"`
	}
	req := c.client.R().SetResult(&out)
	if _, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d/portfolio", apiPrefix, userID), req); err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return out.Portfolio, nil
}

// Operations returns a user's trade history, oldest first.
func (c *RestClient) Operations(ctx context.Context, userID uint) ([]Operation, error) {
	var out struct {
		Operations []Operation `json:"operations"`
	}
	req := c.client.R().SetResult(&out)
	if _, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d/operations", apiPrefix, userID), req); err != nil {
		return nil, fmt.Errorf("failed to get operations: %w", err)
	}
	return out.Operations, nil
}

// Buy purchases quantity units of currency.
func (c *RestClient) Buy(ctx context.Context, userID uint, currency, quantity string) (*TradeResult, error) {
	return c.trade(ctx, userID, "buy", currency, quantity)
}

// Sell sells quantity units of currency.
func (c *RestClient) Sell(ctx context.Context, userID uint, currency, quantity string) (*TradeResult, error) {
	return c.trade(ctx, userID, "sell", currency, quantity)
}

func (c *RestClient) trade(ctx context.Context, userID uint, side, currency, quantity string) (*TradeResult, error) {
	req := c.client.R().
		SetBody(map[string]string{"currency": currency, "quantity": quantity}).
		SetResult(&TradeResult{})

	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("%s/users/%d/%s", apiPrefix, userID, side), req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict && resp != nil {
			var declined TradeResult
			if json.Unmarshal(resp.Body(), &declined) == nil {
				declined.Declined = true
				return &declined, nil
			}
		}
		return nil, fmt.Errorf("failed to %s %s: %w", side, currency, err)
	}
	return resp.Result().(*TradeResult), nil
}

// Rates returns all current exchange rates.
func (c *RestClient) Rates(ctx context.Context) (map[string]Rate, error) {
	var out struct {
		Rates map[string]Rate `json:"rates"`
	}
	req := c.client.R().SetResult(&out)
	if _, err := c.doRequest(ctx, http.MethodGet, apiPrefix+"/rates", req); err != nil {
		return nil, fmt.Errorf("failed to get rates: %w", err)
	}
	return out.Rates, nil
}

// AddCurrency lists a new currency.
func (c *RestClient) AddCurrency(ctx context.Context, symbol, sellPrice, buyPrice string) (*Currency, error) {
	req := c.client.R().
		SetBody(map[string]string{"symbol": symbol, "sell_price": sellPrice, "buy_price": buyPrice}).
		SetResult(&Currency{})
	resp, err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/currencies", req)
	if err != nil {
		return nil, fmt.Errorf("failed to add currency %s: %w", symbol, err)
	}
	return resp.Result().(*Currency), nil
}
