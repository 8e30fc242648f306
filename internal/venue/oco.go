package venue

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"multi-venue-trading-bot/internal/metrics"
)

// CreateOcoOrder places a linked take-profit / stop-loss pair. Venues with
// native OCO get a single request; everything else is emulated as a LIMIT
// leg followed by a stop leg, with the first leg cancelled if the second
// placement fails.
func (g *RESTGateway) CreateOcoOrder(ctx context.Context, p OcoParams) (*OcoResult, error) {
	if p.Symbol == "" || p.Amount <= 0 || p.StopPrice <= 0 || p.LimitPrice <= 0 {
		return nil, ErrInvalidOrder
	}
	if g.SupportsOCO() {
		return g.createNativeOco(ctx, p)
	}
	return g.createEmulatedOco(ctx, p)
}

func (g *RESTGateway) createNativeOco(ctx context.Context, p OcoParams) (*OcoResult, error) {
	params := url.Values{}
	params.Set("symbol", p.Symbol)
	params.Set("side", string(p.Side))
	params.Set("quantity", formatAmount(p.Amount))
	params.Set("price", formatAmount(p.LimitPrice))
	params.Set("stopPrice", formatAmount(p.StopPrice))
	if p.StopLimitPrice > 0 {
		params.Set("stopLimitPrice", formatAmount(p.StopLimitPrice))
		params.Set("stopLimitTimeInForce", "GTC")
	}

	body, err := g.doRequest(ctx, http.MethodPost, g.profile.OcoPath, params, true)
	if err != nil {
		return nil, fmt.Errorf("error creating oco order: %w", err)
	}

	limitID, stopID, err := g.profile.ParseOcoIDs(body)
	if err != nil {
		return nil, err
	}
	return &OcoResult{VenueOrderID: limitID, StopLegID: stopID}, nil
}

// createEmulatedOco places the take-profit LIMIT first, then the stop leg.
// If the stop placement fails the limit leg is cancelled before failing, so
// no naked leg is left resting at the venue.
func (g *RESTGateway) createEmulatedOco(ctx context.Context, p OcoParams) (*OcoResult, error) {
	metrics.OcoEmulationFallbacks.WithLabelValues(g.profile.ID).Inc()

	limitID, err := g.ExecuteOrder(ctx, &OrderRequest{
		Symbol: p.Symbol,
		Side:   p.Side,
		Type:   TypeLimit,
		Amount: p.Amount,
		Price:  p.LimitPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("oco limit leg failed: %w", err)
	}

	stopReq := &OrderRequest{
		Symbol:    p.Symbol,
		Side:      p.Side,
		Amount:    p.Amount,
		StopPrice: p.StopPrice,
	}
	if p.StopLimitPrice > 0 {
		stopReq.Type = TypeStopLimit
		stopReq.Price = p.StopLimitPrice
	} else {
		stopReq.Type = TypeStopMarket
	}

	stopID, err := g.ExecuteOrder(ctx, stopReq)
	if err != nil {
		if cancelErr := g.CancelOrder(ctx, limitID, p.Symbol); cancelErr != nil {
			g.logger.Error().Err(cancelErr).
				Str("venue_order_id", limitID).
				Msg("Failed to roll back oco limit leg")
		}
		return nil, fmt.Errorf("oco stop leg failed: %w", err)
	}

	return &OcoResult{VenueOrderID: limitID, StopLegID: stopID, Emulated: true}, nil
}
