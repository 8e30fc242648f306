package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"multi-venue-trading-bot/internal/metrics"
)

// Gateway is the uniform request interface to one venue. All methods take a
// context; deadline cancellation aborts the internal retry loop.
type Gateway interface {
	ID() string
	Initialize(ctx context.Context, creds *Credentials) error
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	ExecuteOrder(ctx context.Context, req *OrderRequest) (string, error)
	FetchOrder(ctx context.Context, venueOrderID, symbol string) (*RawOrder, error)
	FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*Order, error)
	CancelOrder(ctx context.Context, venueOrderID, symbol string) error
	CreateOcoOrder(ctx context.Context, params OcoParams) (*OcoResult, error)
	GetMarketInfo(ctx context.Context, symbol string) (map[string]interface{}, error)
	SupportsFeature(name string) bool
	SupportsOCO() bool
}

// RESTGateway implements Gateway over a venue's signed REST API.
type RESTGateway struct {
	profile     *Profile
	creds       *Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       RetryPolicy
	logger      zerolog.Logger
	initialized bool
}

// Option configures a RESTGateway.
type Option func(*RESTGateway)

// WithHTTPClient replaces the HTTP client, mainly for tests with a fake
// transport.
func WithHTTPClient(c *http.Client) Option {
	return func(g *RESTGateway) { g.httpClient = c }
}

// WithRetryPolicy overrides the default retry schedule.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *RESTGateway) { g.retry = p }
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *RESTGateway) { g.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewRESTGateway creates a gateway for the given venue profile.
func NewRESTGateway(profile *Profile, logger zerolog.Logger, opts ...Option) *RESTGateway {
	g := &RESTGateway{
		profile:    profile,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		retry:      DefaultRetryPolicy,
		logger:     logger.With().Str("component", "gateway").Str("venue", profile.ID).Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the venue identifier.
func (g *RESTGateway) ID() string { return g.profile.ID }

// Initialize stores the credentials and marks the gateway ready. A nil
// credential set leaves the gateway in public-data-only mode.
func (g *RESTGateway) Initialize(ctx context.Context, creds *Credentials) error {
	g.creds = creds
	g.initialized = true
	g.logger.Info().Bool("authenticated", creds != nil).Msg("Gateway initialized")
	return nil
}

// SupportsFeature reports whether the venue supports a named capability.
func (g *RESTGateway) SupportsFeature(name string) bool {
	return g.profile.Features[name]
}

// SupportsOCO reports whether the venue supports native OCO orders.
func (g *RESTGateway) SupportsOCO() bool { return g.profile.NativeOCO }

// FetchCandles fetches up to limit OHLCV candles for the symbol.
func (g *RESTGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.doRequest(ctx, http.MethodGet, g.profile.CandlesPath, params, false)
	if err != nil {
		return nil, fmt.Errorf("error fetching candles: %w", err)
	}
	return g.profile.ParseCandles(body)
}

// FetchTicker fetches the latest price for the symbol.
func (g *RESTGateway) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := g.doRequest(ctx, http.MethodGet, g.profile.TickerPath, params, false)
	if err != nil {
		return nil, fmt.Errorf("error fetching ticker: %w", err)
	}

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Last   string `json:"lastPr"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}
	last := parseFloat(resp.Price)
	if last == 0 {
		last = parseFloat(resp.Last)
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      last,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// FetchBalance fetches free balances per currency.
func (g *RESTGateway) FetchBalance(ctx context.Context) (map[string]float64, error) {
	if g.creds == nil {
		return nil, ErrNotInitialized
	}
	body, err := g.doRequest(ctx, http.MethodGet, g.profile.BalancePath, url.Values{}, true)
	if err != nil {
		return nil, fmt.Errorf("error fetching balance: %w", err)
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing balance: %w", err)
	}
	out := make(map[string]float64, len(resp.Balances))
	for _, b := range resp.Balances {
		out[b.Asset] = parseFloat(b.Free)
	}
	return out, nil
}

// ExecuteOrder submits the order and returns the venue order id. Market-
// family types never carry a price on the wire, regardless of caller input.
func (g *RESTGateway) ExecuteOrder(ctx context.Context, req *OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	metrics.OrderAttempts.WithLabelValues(g.profile.ID).Inc()

	params := g.buildOrderParams(req)
	body, err := g.doRequest(ctx, http.MethodPost, g.profile.OrderPath, params, true)
	if err != nil {
		metrics.OrderFailures.WithLabelValues(g.profile.ID).Inc()
		return "", fmt.Errorf("error executing order: %w", err)
	}

	raw, err := g.profile.ParseOrder(body)
	if err != nil {
		metrics.OrderFailures.WithLabelValues(g.profile.ID).Inc()
		return "", err
	}
	metrics.OrderSuccesses.WithLabelValues(g.profile.ID).Inc()
	g.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Float64("amount", req.Amount).
		Str("venue_order_id", raw.VenueOrderID).
		Msg("Order executed")
	return raw.VenueOrderID, nil
}

// buildOrderParams translates the request into venue wire parameters.
func (g *RESTGateway) buildOrderParams(req *OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", g.profile.TypeMap.ToVenue(req.Type))
	params.Set("quantity", formatAmount(req.Amount))

	if !req.Type.IsMarketFamily() {
		if req.Price > 0 {
			params.Set("price", formatAmount(req.Price))
		}
		params.Set("timeInForce", "GTC")
	}
	if req.Type.RequiresStopPrice() && req.StopPrice > 0 {
		params.Set("stopPrice", formatAmount(req.StopPrice))
	}
	for k, v := range req.Options {
		params.Set(k, v)
	}
	if g.profile.ApplyOrderQuirks != nil {
		g.profile.ApplyOrderQuirks(params, req)
	}
	return params
}

// FetchOrder fetches the venue's view of an order.
func (g *RESTGateway) FetchOrder(ctx context.Context, venueOrderID, symbol string) (*RawOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", venueOrderID)

	body, err := g.doRequest(ctx, http.MethodGet, g.profile.OrderPath, params, true)
	if err != nil {
		return nil, fmt.Errorf("error fetching order %s: %w", venueOrderID, err)
	}
	return g.profile.ParseOrder(body)
}

// FetchOrderAndConvert fetches an order and converts it to the internal
// shape with the status mapped into the local vocabulary.
func (g *RESTGateway) FetchOrderAndConvert(ctx context.Context, venueOrderID, symbol string) (*Order, error) {
	raw, err := g.FetchOrder(ctx, venueOrderID, symbol)
	if err != nil {
		return nil, err
	}
	return &Order{
		VenueID:      g.profile.ID,
		VenueOrderID: raw.VenueOrderID,
		Symbol:       raw.Symbol,
		Side:         OrderSide(strings.ToUpper(raw.Side)),
		Type:         g.profile.TypeMap.ToInternal(raw.Type, g.logger),
		Amount:       raw.Amount,
		Price:        raw.Price,
		Status:       MapStatus(raw.Status),
		FilledAmount: raw.FilledAmount,
		AvgFillPrice: raw.AvgFillPrice,
		UpdatedAt:    time.UnixMilli(raw.Timestamp),
	}, nil
}

// CancelOrder cancels an open order at the venue.
func (g *RESTGateway) CancelOrder(ctx context.Context, venueOrderID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", venueOrderID)

	if _, err := g.doRequest(ctx, http.MethodDelete, g.profile.OrderPath, params, true); err != nil {
		return fmt.Errorf("error canceling order %s: %w", venueOrderID, err)
	}
	g.logger.Info().Str("venue_order_id", venueOrderID).Str("symbol", symbol).Msg("Order canceled")
	return nil
}

// GetMarketInfo fetches the venue's raw market metadata for the symbol.
// Normalization into the unified SymbolInfo shape is the cache's job.
func (g *RESTGateway) GetMarketInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := g.doRequest(ctx, http.MethodGet, g.profile.MarketInfoPath, params, false)
	if err != nil {
		return nil, fmt.Errorf("error fetching market info: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing market info: %w", err)
	}
	return raw, nil
}

// doRequest performs one rate-limited, signed (if required) HTTP call under
// the retry policy. Only the final or a non-retryable error escapes.
func (g *RESTGateway) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	var result []byte
	attempts := 0

	err := RetryDo(ctx, g.retry, func() error {
		attempts++
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		reqParams := params
		if signed {
			if g.creds == nil {
				return ErrNotInitialized
			}
			reqParams = cloneValues(params)
			reqParams.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
			reqParams.Set("signature", g.sign(reqParams))
		}

		var req *http.Request
		var err error
		endpoint := g.profile.BaseURL + path
		if method == http.MethodGet || method == http.MethodDelete {
			req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+reqParams.Encode(), nil)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(reqParams.Encode()))
			if req != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return err
		}
		if signed {
			req.Header.Set(g.profile.AuthHeader, g.creds.APIKey)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		result = body
		return nil
	})

	metrics.RetryCount.WithLabelValues(g.profile.ID).Observe(float64(attempts - 1))
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && !httpErr.IsRateLimited() {
			return nil, fmt.Errorf("%w: %s", ErrVenueRejected, httpErr.Body)
		}
		return nil, err
	}
	return result, nil
}

// sign computes the HMAC-SHA256 signature over the encoded parameters.
func (g *RESTGateway) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(g.creds.SecretKey))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// formatAmount renders a quantity or price without float artifacts.
func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).String()
}
