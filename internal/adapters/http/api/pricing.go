package api

import (
	"context"
	"net/http"

	"github.com/okian/installmatch/internal/domain/geo"
	"github.com/okian/installmatch/internal/domain/pricing"
	"github.com/okian/installmatch/internal/domain/tier"
)

// PricingDependencies defines the stateless calculators.
type PricingDependencies interface {
	Price(ctx context.Context, in pricing.Input, t tier.ID) (pricing.Breakdown, error)
	Quote(ctx context.Context, q pricing.QuoteInput, t tier.ID) (pricing.Quote, error)
	Route(ctx context.Context, start geo.Location, stops []geo.Stop, mode geo.Mode) (geo.Route, error)
	AnalyzeTier(m tier.Metrics) tier.Analysis
}

// PricingHandler handles price, quote, route and tier requests.
type PricingHandler struct {
	deps PricingDependencies
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(deps PricingDependencies) *PricingHandler {
	return &PricingHandler{deps: deps}
}

// tierOrDefault prices an unspecified tier as bronze, the tier without a
// discount.
func tierOrDefault(t tier.ID) tier.ID {
	if t == 0 {
		return tier.Bronze
	}
	return t
}

// priceRequest carries no timestamps. Both ends of the urgency window come
// from the store clock, so an ad hoc price has no elapsed escalation.
type priceRequest struct {
	BaseFee  int64           `json:"base_fee"`
	Discount int64           `json:"discount"`
	Urgency  pricing.Urgency `json:"urgency"`
	Tier     tier.ID         `json:"tier"`
}

func (r priceRequest) input() pricing.Input {
	return pricing.Input{BaseFee: r.BaseFee, Discount: r.Discount, Urgency: r.Urgency}
}

// HandlePrice handles POST /price.
func (h *PricingHandler) HandlePrice(w http.ResponseWriter, r *http.Request) {
	const op = "api.price"
	var req priceRequest
	if err := decode(r, &req, false); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	b, err := h.deps.Price(r.Context(), req.input(), tierOrDefault(req.Tier))
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type quoteRequest struct {
	AreaSquareMeters float64            `json:"area_square_meters"`
	Materials        []pricing.Material `json:"materials"`
	Complexity       pricing.Complexity `json:"complexity"`
	DistanceKm       float64            `json:"distance_km"`
	Parking          bool               `json:"parking"`
	NoElevator       bool               `json:"no_elevator"`
	SpecialEquipment bool               `json:"special_equipment"`
	RushHour         bool               `json:"rush_hour"`
	Discount         int64              `json:"discount"`
	Urgency          pricing.Urgency    `json:"urgency"`
	Tier             tier.ID            `json:"tier"`
}

func (r quoteRequest) input() pricing.QuoteInput {
	return pricing.QuoteInput{
		AreaSquareMeters: r.AreaSquareMeters,
		Materials:        r.Materials,
		Complexity:       r.Complexity,
		DistanceKm:       r.DistanceKm,
		Parking:          r.Parking,
		NoElevator:       r.NoElevator,
		SpecialEquipment: r.SpecialEquipment,
		RushHour:         r.RushHour,
		Discount:         r.Discount,
		Urgency:          r.Urgency,
	}
}

// HandleQuote handles POST /quote.
func (h *PricingHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	const op = "api.quote"
	var req quoteRequest
	if err := decode(r, &req, false); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	q, err := h.deps.Quote(r.Context(), req.input(), tierOrDefault(req.Tier))
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type routeRequest struct {
	Start geo.Location `json:"start"`
	Stops []geo.Stop   `json:"stops"`
	Mode  geo.Mode     `json:"mode"`
}

type routeResponse struct {
	geo.Route
	Order []string `json:"order"`
}

// HandleRoute handles POST /routes.
func (h *PricingHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	const op = "api.route"
	var req routeRequest
	if err := decode(r, &req, false); err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	route, err := h.deps.Route(r.Context(), req.Start, req.Stops, req.Mode)
	if err != nil {
		writeDomainError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{Route: route, Order: route.Order()})
}

// HandleAnalyzeTier handles POST /tiers/analyze.
func (h *PricingHandler) HandleAnalyzeTier(w http.ResponseWriter, r *http.Request) {
	var m tier.Metrics
	if err := decode(r, &m, false); err != nil {
		writeDomainError(w, Wrap("api.analyze_tier", err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.AnalyzeTier(m))
}
