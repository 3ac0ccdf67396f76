package observability

import "sync"

// DefaultRatePer1KTokens is the deterministic simulated token rate.
const DefaultRatePer1KTokens = 0.002

// CostTracker attributes deterministic cost per tenant, model version and
// request. All maps are mutex-guarded; totals never reset.
type CostTracker struct {
	mu           sync.Mutex
	ratePer1K    float64
	tenantCosts  map[string]float64
	modelCosts   map[string]float64
	requestCosts map[string]float64
	cumulative   float64
}

// NewCostTracker creates a tracker. ratePer1K <= 0 uses the default.
func NewCostTracker(ratePer1K float64) *CostTracker {
	if ratePer1K <= 0 {
		ratePer1K = DefaultRatePer1KTokens
	}
	return &CostTracker{
		ratePer1K:    ratePer1K,
		tenantCosts:  make(map[string]float64),
		modelCosts:   make(map[string]float64),
		requestCosts: make(map[string]float64),
	}
}

// AddCost records amount against tenant, optionally attributing to a model
// version and request id.
func (t *CostTracker) AddCost(tenantID string, amount float64, modelVersion, requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulative += amount
	t.tenantCosts[tenantID] += amount
	if modelVersion != "" {
		t.modelCosts[modelVersion] += amount
	}
	if requestID != "" {
		t.requestCosts[requestID] += amount
	}
}

// AddCostFromTokens computes (input+output)/1000 * rate, records it, and
// returns the amount.
func (t *CostTracker) AddCostFromTokens(tenantID string, inputTokens, outputTokens int, modelVersion, requestID string) float64 {
	amount := float64(inputTokens+outputTokens) / 1000.0 * t.ratePer1K
	t.AddCost(tenantID, amount, modelVersion, requestID)
	return amount
}

// TenantCost returns the total attributed to a tenant.
func (t *CostTracker) TenantCost(tenantID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tenantCosts[tenantID]
}

// ModelCost returns the total attributed to a model version.
func (t *CostTracker) ModelCost(modelVersion string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modelCosts[modelVersion]
}

// RequestCost returns the cost of one request.
func (t *CostTracker) RequestCost(requestID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestCosts[requestID]
}

// Cumulative returns the all-time total.
func (t *CostTracker) Cumulative() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cumulative
}
