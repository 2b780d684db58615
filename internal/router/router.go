// Package router implements the SmartOrderRouter: it turns a slice
// request (symbol, side, quantity) into a RoutingDecision allocating
// quantity across eligible venues.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowbook/execd/internal/execerr"
	"github.com/shadowbook/execd/internal/liquidity"
	"github.com/shadowbook/execd/internal/metrics"
	"github.com/shadowbook/execd/internal/model"
	"github.com/shadowbook/execd/internal/routingrules"
	"github.com/shadowbook/execd/internal/venue"
)

// Strategy selects which candidate-generation method produces a
// candidate allocation set for a slice. The router generates a set for
// every strategy and scores each, so Strategy is really a tie-break
// preference rather than an exclusive choice.
type Strategy string

const (
	StrategySingleVenue  Strategy = "single_venue"
	StrategyProportional Strategy = "proportional"
	StrategyOptimalSplit Strategy = "optimal_split"
	StrategyTimeWeighted Strategy = "time_weighted"
)

// Objective names which candidate-set sub-score the router weights most
// heavily when picking between allocation sets.
type Objective string

const (
	ObjectiveCost     Objective = "cost"
	ObjectiveSpeed    Objective = "speed"
	ObjectiveSize     Objective = "size"
	ObjectiveBalanced Objective = "balanced"
)

// defaultMinReliability is the venue reliability floor below which an
// already-allocated venue is swapped for its best unused alternative.
const defaultMinReliability = 0.5

// Config tunes the router's behavior.
type Config struct {
	MaxVenuesPerOrder int
	MinFillSize       decimal.Decimal
	MaxLatencyMs      int64
	MaxSlippageBps    int
	MinDepthFraction  decimal.Decimal
	MinReliability    float64
	Objective         Objective
	CacheTTL          time.Duration
	CacheSize         int
}

// Router is the SmartOrderRouter. It holds no per-order state; every
// Route call is a pure function of the registry/liquidity/metrics state
// at call time, plus the decision cache.
type Router struct {
	cfg       Config
	registry  *venue.Registry
	liquidity *liquidity.View
	tracker   *metrics.Tracker
	rules     *routingrules.Engine
	cache     *decisionCache
}

func New(cfg Config, registry *venue.Registry, liq *liquidity.View, tracker *metrics.Tracker, rules *routingrules.Engine) *Router {
	if cfg.MinReliability <= 0 {
		cfg.MinReliability = defaultMinReliability
	}
	if cfg.Objective == "" {
		cfg.Objective = ObjectiveBalanced
	}
	return &Router{
		cfg:       cfg,
		registry:  registry,
		liquidity: liq,
		tracker:   tracker,
		rules:     rules,
		cache:     newDecisionCache(cfg.CacheSize, cfg.CacheTTL),
	}
}

// Route produces a RoutingDecision for one slice of an order. strategy
// names the caller's preferred candidate-generation method; every
// strategy's candidate set is generated and scored regardless, and
// strategy only breaks ties between sets of equal score.
func (r *Router) Route(ctx context.Context, order model.ParentOrder, qty decimal.Decimal, strategy Strategy) (model.RoutingDecision, error) {
	if cached, ok := r.cache.lookup(order.Symbol, order.Side, qty, strategy); ok {
		return cached, nil
	}

	start := time.Now()
	decision, err := r.route(ctx, order, qty, strategy)
	_ = time.Since(start) // unused; Orchestrator.executeGroup times Route and records router_decision_latency_seconds
	if err != nil {
		return model.RoutingDecision{}, err
	}

	r.cache.store(order.Symbol, order.Side, qty, strategy, decision)
	return decision, nil
}

func (r *Router) route(ctx context.Context, order model.ParentOrder, qty decimal.Decimal, strategy Strategy) (model.RoutingDecision, error) {
	snap, fresh := r.liquidity.Snapshot(order.Symbol)
	if !fresh {
		return model.RoutingDecision{}, execerr.New(execerr.KindInsufficientLiquidity, order.OrderID, "liquidity snapshot stale")
	}

	eligible := r.registry.Eligible(order.Symbol)
	eligible = r.rules.Filter(order, eligible)
	if len(eligible) == 0 {
		return model.RoutingDecision{}, execerr.New(execerr.KindInsufficientLiquidity, order.OrderID, "no eligible venues")
	}

	limitPrice := bestPriceForSide(snap, order.Side)
	available := liquidity.DepthAtPrice(snap, order.Side, limitPrice)
	if available.LessThan(qty.Mul(r.cfg.MinDepthFraction)) {
		return model.RoutingDecision{}, execerr.New(execerr.KindInsufficientLiquidity, order.OrderID,
			fmt.Sprintf("available depth %s below %.0f%% of requested %s", available, r.cfg.MinDepthFraction.Mul(decimal.NewFromInt(100)).InexactFloat64(), qty))
	}

	candidates := r.scoreCandidates(eligible, order, qty)

	urgency := order.Metadata.Urgency
	generators := []struct {
		strategy Strategy
		generate func() []model.Allocation
	}{
		{StrategySingleVenue, func() []model.Allocation { return singleVenue(candidates, qty, urgency) }},
		{StrategyProportional, func() []model.Allocation { return proportionalSplit(candidates, qty, r.cfg.MaxVenuesPerOrder, urgency) }},
		{StrategyOptimalSplit, func() []model.Allocation { return optimalSplit(candidates, qty, r.cfg.MaxVenuesPerOrder, urgency) }},
		{StrategyTimeWeighted, func() []model.Allocation { return timeWeightedSplit(candidates, qty, r.cfg.MaxVenuesPerOrder, urgency) }},
	}

	type candidateSet struct {
		strategy  Strategy
		allocs    []model.Allocation
		reasoning []string
		score     decimal.Decimal
	}

	sets := make([]candidateSet, 0, len(generators))
	for _, g := range generators {
		allocs := g.generate()
		if len(allocs) == 0 {
			continue
		}
		allocs, reasoning := r.applyFallback(allocs, candidates, qty, r.cfg.MaxVenuesPerOrder)
		score := scoreSet(allocs, candidates, qty, r.cfg.Objective)
		sets = append(sets, candidateSet{strategy: g.strategy, allocs: allocs, reasoning: reasoning, score: score})
	}

	if len(sets) == 0 {
		return model.RoutingDecision{}, execerr.New(execerr.KindInsufficientLiquidity, order.OrderID, "no viable allocation set")
	}

	sort.SliceStable(sets, func(i, j int) bool {
		if !sets[i].score.Equal(sets[j].score) {
			return sets[i].score.GreaterThan(sets[j].score)
		}
		return sets[i].strategy == strategy
	})

	best := sets[0]
	decision := buildDecision(best.allocs, snap, order.Side)
	decision.Reasoning = append(decision.Reasoning, best.reasoning...)

	for _, s := range sets[1:] {
		if !sameAllocationSet(s.allocs, best.allocs) {
			decision.AlternativeAllocations = s.allocs
			break
		}
	}

	return decision, nil
}

func bestPriceForSide(snap model.LiquiditySnapshot, side model.Side) decimal.Decimal {
	if side == model.SideBuy {
		return snap.BestAsk
	}
	return snap.BestBid
}

type candidate struct {
	venue       venue.Descriptor
	price       decimal.Decimal
	depth       decimal.Decimal
	score       decimal.Decimal
	feeBps      decimal.Decimal
	latencyMs   int64
	slippageBps float64
	reliability float64
}

// scoreCandidates ranks eligible venues by their per-venue composite
// score. Ties (common when a venue has no tracked history yet) are
// broken by lower average latency, then higher reliability, then
// lexicographic venue ID, so ranking is deterministic regardless of
// registry iteration order.
func (r *Router) scoreCandidates(venues []venue.Descriptor, order model.ParentOrder, qty decimal.Decimal) []candidate {
	snap, _ := r.liquidity.Snapshot(order.Symbol)

	out := make([]candidate, 0, len(venues))
	for _, v := range venues {
		depth, ok := snap.PerVenue[v.ID]
		if !ok {
			continue
		}
		levels := depth.Asks
		if order.Side == model.SideSell {
			levels = depth.Bids
		}
		if len(levels) == 0 {
			continue
		}

		totalDepth := decimal.Zero
		for _, lvl := range levels {
			totalDepth = totalDepth.Add(lvl.Qty)
		}

		fee := v.TakerFeeBps
		snapMetrics := r.tracker.Snapshot(v.ID)
		score := snapMetrics.CompositeScore(fee)

		out = append(out, candidate{
			venue:       v,
			price:       levels[0].Price,
			depth:       totalDepth,
			score:       score,
			feeBps:      fee,
			latencyMs:   int64(snapMetrics.AvgLatencyMs),
			slippageBps: snapMetrics.AvgSlippageBps,
			reliability: snapMetrics.Reliability,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].score.Equal(out[j].score) {
			return out[i].score.GreaterThan(out[j].score)
		}
		if out[i].latencyMs != out[j].latencyMs {
			return out[i].latencyMs < out[j].latencyMs
		}
		if out[i].reliability != out[j].reliability {
			return out[i].reliability > out[j].reliability
		}
		return out[i].venue.ID < out[j].venue.ID
	})
	return out
}

// priorityFor implements base_priority + speed_bonus, with a reliability
// bonus added for urgent orders that should prefer dependable venues
// over merely fast ones.
func priorityFor(basePriority int, c candidate, urgency model.Urgency) int {
	bonus := 0.0
	if v := (50.0 - float64(c.latencyMs)) / 50.0; v > 0 {
		bonus = v * 20
	}
	if urgency == model.UrgencyCritical || urgency == model.UrgencyHigh {
		bonus += c.reliability * 15
	}
	return basePriority + int(math.Round(bonus))
}

func feeFor(qty decimal.Decimal, c candidate) decimal.Decimal {
	return qty.Mul(c.price).Mul(c.feeBps).Div(decimal.NewFromInt(10000))
}

func slippageFor(c candidate) decimal.Decimal {
	return decimal.NewFromFloat(c.slippageBps).Div(decimal.NewFromInt(10000))
}

func singleVenue(candidates []candidate, qty decimal.Decimal, urgency model.Urgency) []model.Allocation {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	alloc := qty
	if best.depth.GreaterThan(decimal.Zero) && best.depth.LessThan(alloc) {
		alloc = best.depth
	}
	return []model.Allocation{{
		VenueID:           best.venue.ID,
		Qty:               alloc,
		ExpectedPrice:     best.price,
		ExpectedFee:       feeFor(alloc, best),
		ExpectedSlippage:  slippageFor(best),
		ExpectedLatencyMs: best.latencyMs,
		Priority:          priorityFor(0, best, urgency),
	}}
}

func proportionalSplit(candidates []candidate, qty decimal.Decimal, maxVenues int, urgency model.Urgency) []model.Allocation {
	candidates = top(candidates, maxVenues)
	totalDepth := decimal.Zero
	for _, c := range candidates {
		totalDepth = totalDepth.Add(c.depth)
	}
	if totalDepth.IsZero() {
		return nil
	}

	allocs := make([]model.Allocation, 0, len(candidates))
	remaining := qty
	for i, c := range candidates {
		var alloc decimal.Decimal
		if i == len(candidates)-1 {
			alloc = remaining
		} else {
			alloc = qty.Mul(c.depth).Div(totalDepth)
			remaining = remaining.Sub(alloc)
		}
		if alloc.LessThanOrEqual(decimal.Zero) {
			continue
		}
		allocs = append(allocs, model.Allocation{
			VenueID:           c.venue.ID,
			Qty:               alloc,
			ExpectedPrice:     c.price,
			ExpectedFee:       feeFor(alloc, c),
			ExpectedSlippage:  slippageFor(c),
			ExpectedLatencyMs: c.latencyMs,
			Priority:          priorityFor(i, c, urgency),
		})
	}
	return allocs
}

// timeWeightedSplit favors lower-latency venues for urgent orders by
// weighting allocation by the inverse of the venue's rank rather than
// its available depth.
func timeWeightedSplit(candidates []candidate, qty decimal.Decimal, maxVenues int, urgency model.Urgency) []model.Allocation {
	candidates = top(candidates, maxVenues)
	if len(candidates) == 0 {
		return nil
	}

	weights := make([]decimal.Decimal, len(candidates))
	total := decimal.Zero
	for i := range candidates {
		w := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(i) + 1))
		weights[i] = w
		total = total.Add(w)
	}

	allocs := make([]model.Allocation, 0, len(candidates))
	remaining := qty
	for i, c := range candidates {
		var alloc decimal.Decimal
		if i == len(candidates)-1 {
			alloc = remaining
		} else {
			alloc = qty.Mul(weights[i]).Div(total)
			remaining = remaining.Sub(alloc)
		}
		if alloc.LessThanOrEqual(decimal.Zero) {
			continue
		}
		allocs = append(allocs, model.Allocation{
			VenueID:           c.venue.ID,
			Qty:               alloc,
			ExpectedPrice:     c.price,
			ExpectedFee:       feeFor(alloc, c),
			ExpectedSlippage:  slippageFor(c),
			ExpectedLatencyMs: c.latencyMs,
			Priority:          priorityFor(i, c, urgency),
		})
	}
	return allocs
}

// optimalSplit discretizes qty into steps and greedily assigns each step
// to whichever venue currently offers the lowest enhanced cost (price +
// an impact penalty proportional to how much of that venue's candidate
// depth has already been consumed), a simplified dynamic-programming
// knapsack over a small number of steps.
func optimalSplit(candidates []candidate, qty decimal.Decimal, maxVenues int, urgency model.Urgency) []model.Allocation {
	candidates = top(candidates, maxVenues)
	if len(candidates) == 0 {
		return nil
	}

	const steps = 20
	stepQty := qty.Div(decimal.NewFromInt(steps))
	consumed := make([]decimal.Decimal, len(candidates))
	allocated := make([]decimal.Decimal, len(candidates))

	for s := 0; s < steps; s++ {
		bestIdx := -1
		bestCost := decimal.Zero
		for i, c := range candidates {
			if consumed[i].Add(stepQty).GreaterThan(c.depth) {
				continue
			}
			impact := consumed[i].Div(maxDecimal(c.depth, decimal.NewFromInt(1))).Mul(c.price).Mul(decimal.NewFromFloat(0.0005))
			cost := c.price.Add(impact)
			if bestIdx == -1 || cost.LessThan(bestCost) {
				bestIdx = i
				bestCost = cost
			}
		}
		if bestIdx == -1 {
			break
		}
		consumed[bestIdx] = consumed[bestIdx].Add(stepQty)
		allocated[bestIdx] = allocated[bestIdx].Add(stepQty)
	}

	allocs := make([]model.Allocation, 0, len(candidates))
	for i, c := range candidates {
		if allocated[i].LessThanOrEqual(decimal.Zero) {
			continue
		}
		allocs = append(allocs, model.Allocation{
			VenueID:           c.venue.ID,
			Qty:               allocated[i],
			ExpectedPrice:     c.price,
			ExpectedFee:       feeFor(allocated[i], c),
			ExpectedSlippage:  slippageFor(c),
			ExpectedLatencyMs: c.latencyMs,
			Priority:          priorityFor(i, c, urgency),
		})
	}
	return allocs
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func top(candidates []candidate, n int) []candidate {
	if n <= 0 || n >= len(candidates) {
		return candidates
	}
	return candidates[:n]
}

// applyFallback implements both fallback paths: an allocation whose venue
// has fallen below the reliability floor is swapped for the best unused
// eligible alternative (marked IsBackup, with a reasoning entry naming
// the swap), and any quantity candidate generation couldn't place is
// topped up from the best remaining unused venue.
func (r *Router) applyFallback(allocs []model.Allocation, sorted []candidate, qty decimal.Decimal, maxVenues int) ([]model.Allocation, []string) {
	byVenue := make(map[string]candidate, len(sorted))
	for _, c := range sorted {
		byVenue[c.venue.ID] = c
	}

	used := make(map[string]bool, len(allocs))
	for _, a := range allocs {
		used[a.VenueID] = true
	}

	var reasoning []string
	out := append([]model.Allocation(nil), allocs...)

	for i, a := range out {
		c, ok := byVenue[a.VenueID]
		if !ok || c.reliability >= r.cfg.MinReliability {
			continue
		}
		replacement := bestUnused(sorted, used)
		if replacement == nil {
			continue
		}
		reasoning = append(reasoning, fmt.Sprintf("fallback: %s -> %s (reliability %.2f below %.2f floor)",
			a.VenueID, replacement.venue.ID, c.reliability, r.cfg.MinReliability))
		used[a.VenueID] = false
		used[replacement.venue.ID] = true
		out[i] = model.Allocation{
			VenueID:           replacement.venue.ID,
			Qty:               a.Qty,
			ExpectedPrice:     replacement.price,
			ExpectedFee:       feeFor(a.Qty, *replacement),
			ExpectedSlippage:  slippageFor(*replacement),
			ExpectedLatencyMs: replacement.latencyMs,
			Priority:          a.Priority,
			IsBackup:          true,
		}
	}

	allocated := decimal.Zero
	for _, a := range out {
		allocated = allocated.Add(a.Qty)
	}
	shortfall := qty.Sub(allocated)
	if shortfall.GreaterThan(decimal.Zero) && len(out) < maxVenues {
		if replacement := bestUnused(sorted, used); replacement != nil {
			out = append(out, model.Allocation{
				VenueID:           replacement.venue.ID,
				Qty:               shortfall,
				ExpectedPrice:     replacement.price,
				ExpectedFee:       feeFor(shortfall, *replacement),
				ExpectedSlippage:  slippageFor(*replacement),
				ExpectedLatencyMs: replacement.latencyMs,
				Priority:          len(out),
				IsBackup:          true,
			})
			reasoning = append(reasoning, fmt.Sprintf("fallback: %s added to cover shortfall of %s", replacement.venue.ID, shortfall))
		}
	}

	return out, reasoning
}

// bestUnused returns the highest-scored candidate not already in used;
// sorted is assumed pre-ranked by scoreCandidates, so the first match is
// the best available.
func bestUnused(sorted []candidate, used map[string]bool) *candidate {
	for i := range sorted {
		if !used[sorted[i].venue.ID] {
			c := sorted[i]
			return &c
		}
	}
	return nil
}

// scoreSet scores a whole candidate allocation set on the four weighted
// sub-scores: cost (fee bps), speed (worst-case leg latency), size
// (fraction of requested qty actually allocated), and reliability
// (qty-weighted venue reliability). objective shifts its matching weight
// to 0.4, rebalancing the rest to 0.2 each; the default leaves all four
// at 0.25.
func scoreSet(allocs []model.Allocation, sorted []candidate, qty decimal.Decimal, objective Objective) decimal.Decimal {
	if len(allocs) == 0 || qty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	byVenue := make(map[string]candidate, len(sorted))
	for _, c := range sorted {
		byVenue[c.venue.ID] = c
	}

	allocated := decimal.Zero
	feeWeighted := decimal.Zero
	reliabilityWeighted := decimal.Zero
	var maxLatency int64
	for _, a := range allocs {
		allocated = allocated.Add(a.Qty)
		reliability := 1.0
		feeBps := decimal.Zero
		if c, ok := byVenue[a.VenueID]; ok {
			reliability = c.reliability
			feeBps = c.feeBps
		}
		feeWeighted = feeWeighted.Add(a.Qty.Mul(feeBps))
		reliabilityWeighted = reliabilityWeighted.Add(a.Qty.Mul(decimal.NewFromFloat(reliability)))
		if a.ExpectedLatencyMs > maxLatency {
			maxLatency = a.ExpectedLatencyMs
		}
	}
	if allocated.IsZero() {
		return decimal.Zero
	}

	costScore := clampScore(decimal.NewFromInt(100).Sub(feeWeighted.Div(allocated)))
	speedScore := clampScore(decimal.NewFromInt(100).Sub(decimal.NewFromInt(maxLatency).Div(decimal.NewFromInt(10))))
	sizeScore := clampScore(allocated.Div(qty).Mul(decimal.NewFromInt(100)))
	reliabilityScore := clampScore(reliabilityWeighted.Div(allocated).Mul(decimal.NewFromInt(100)))

	wCost, wSpeed, wSize, wReliability := objectiveWeights(objective)

	return costScore.Mul(wCost).
		Add(speedScore.Mul(wSpeed)).
		Add(sizeScore.Mul(wSize)).
		Add(reliabilityScore.Mul(wReliability))
}

func clampScore(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(100)
	}
	return d
}

func objectiveWeights(o Objective) (cost, speed, size, reliability decimal.Decimal) {
	base := decimal.NewFromFloat(0.25)
	shifted := decimal.NewFromFloat(0.4)
	rest := decimal.NewFromFloat(0.2)
	switch o {
	case ObjectiveCost:
		return shifted, rest, rest, rest
	case ObjectiveSpeed:
		return rest, shifted, rest, rest
	case ObjectiveSize:
		return rest, rest, shifted, rest
	default:
		return base, base, base, base
	}
}

// sameAllocationSet compares two allocation sets by venue/qty only, so a
// set that differs from the primary merely in Priority rounding isn't
// surfaced as a spurious alternative.
func sameAllocationSet(a, b []model.Allocation) bool {
	if len(a) != len(b) {
		return false
	}
	qtyByVenue := make(map[string]decimal.Decimal, len(a))
	for _, x := range a {
		qtyByVenue[x.VenueID] = x.Qty
	}
	for _, y := range b {
		q, ok := qtyByVenue[y.VenueID]
		if !ok || !q.Equal(y.Qty) {
			return false
		}
	}
	return true
}

func buildDecision(allocs []model.Allocation, snap model.LiquiditySnapshot, side model.Side) model.RoutingDecision {
	totalCost := decimal.Zero
	totalQty := decimal.Zero
	var maxLatency int64
	reasoning := make([]string, 0, len(allocs))

	ref := bestPriceForSide(snap, side)

	for _, a := range allocs {
		totalCost = totalCost.Add(a.Qty.Mul(a.ExpectedPrice))
		totalQty = totalQty.Add(a.Qty)
		if a.ExpectedLatencyMs > maxLatency {
			maxLatency = a.ExpectedLatencyMs
		}
		reasoning = append(reasoning, fmt.Sprintf("%s: %s @ %s", a.VenueID, a.Qty, a.ExpectedPrice))
	}

	slippage := decimal.Zero
	if !ref.IsZero() && !totalQty.IsZero() {
		avgPrice := totalCost.Div(totalQty)
		slippage = avgPrice.Sub(ref).Div(ref).Abs()
	}

	confidence := decimal.NewFromFloat(1.0)
	if len(allocs) == 0 {
		confidence = decimal.Zero
	}

	return model.RoutingDecision{
		Allocations:       allocs,
		TotalExpectedCost: totalCost,
		ExpectedSlippage:  slippage,
		ExpectedLatencyMs: maxLatency,
		Confidence:        confidence,
		Reasoning:         reasoning,
	}
}
