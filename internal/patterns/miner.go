package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/deploywatch/deploywatch/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.RiskPattern) error
}

// Miner mines recurring risk-factor/anomaly signatures from incident history.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine groups incidents by their anomaly-type signature and aggregates the
// risk factors seen alongside each signature. Patterns are returned most
// prevalent first.
func (m *Miner) Mine(ctx context.Context, incidents []models.Incident) ([]models.RiskPattern, error) {
	if len(incidents) == 0 {
		return nil, nil
	}

	groups := make(map[string]*signatureAggregate)
	for _, incident := range incidents {
		signature := anomalySignature(incident.Anomalies)
		if signature == "" {
			continue
		}
		agg, ok := groups[signature]
		if !ok {
			agg = &signatureAggregate{
				kinds:        signatureKinds(incident.Anomalies),
				factorCounts: make(map[string]int),
			}
			groups[signature] = agg
		}
		agg.occurrences++
		if incident.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = incident.CreatedAt
		}
		for _, factor := range incident.RiskFactors {
			agg.factorCounts[factor]++
		}
	}

	mined := make([]models.RiskPattern, 0, len(groups))
	for signature, agg := range groups {
		pattern := models.RiskPattern{
			ID:           "pattern-" + signature,
			Name:         strings.ReplaceAll(signature, "+", " + "),
			Description:  "Recurring anomaly signature mined from incident history",
			Factors:      agg.topFactors(3),
			AnomalyTypes: agg.kinds,
			Occurrences:  agg.occurrences,
			Prevalence:   float64(agg.occurrences) / float64(len(incidents)),
			LastSeen:     agg.lastSeen,
		}
		mined = append(mined, pattern)
	}

	sort.Slice(mined, func(i, j int) bool {
		if mined[i].Prevalence != mined[j].Prevalence {
			return mined[i].Prevalence > mined[j].Prevalence
		}
		return mined[i].ID < mined[j].ID
	})

	if m.store != nil && len(mined) > 0 {
		if err := m.store.StorePatterns(ctx, mined); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return mined, nil
}

type signatureAggregate struct {
	kinds        []string
	occurrences  int
	factorCounts map[string]int
	lastSeen     time.Time
}

func (agg *signatureAggregate) topFactors(limit int) []string {
	factors := make([]string, 0, len(agg.factorCounts))
	for factor := range agg.factorCounts {
		factors = append(factors, factor)
	}
	sort.Slice(factors, func(i, j int) bool {
		if agg.factorCounts[factors[i]] != agg.factorCounts[factors[j]] {
			return agg.factorCounts[factors[i]] > agg.factorCounts[factors[j]]
		}
		return factors[i] < factors[j]
	})
	if len(factors) > limit {
		factors = factors[:limit]
	}
	return factors
}

// anomalySignature is the sorted de-duplicated set of anomaly types joined
// with '+'.
func anomalySignature(anomalies []models.Anomaly) string {
	return strings.Join(signatureKinds(anomalies), "+")
}

func signatureKinds(anomalies []models.Anomaly) []string {
	seen := make(map[string]struct{}, len(anomalies))
	kinds := make([]string, 0, len(anomalies))
	for _, anomaly := range anomalies {
		if _, ok := seen[anomaly.Type]; ok {
			continue
		}
		seen[anomaly.Type] = struct{}{}
		kinds = append(kinds, anomaly.Type)
	}
	sort.Strings(kinds)
	return kinds
}
