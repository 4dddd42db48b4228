package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

// FactoryResult counts what one creation step did.
type FactoryResult struct {
	Groups  int   `json:"groups"`
	Skipped int   `json:"skipped"` // fingerprint already covered
	Created int64 `json:"created"`
}

// Factory creates one portfolio per fingerprint not yet covered.
type Factory struct {
	store      portfolio.Store
	classifier EntityClassifier
	roles      []string
}

// NewFactory creates a Factory. A nil classifier uses the default indicators.
func NewFactory(store portfolio.Store, classifier EntityClassifier, roles []string) *Factory {
	if classifier == nil {
		classifier = NewSubstringClassifier(nil)
	}
	return &Factory{store: store, classifier: classifier, roles: roles}
}

// Create groups eligible contacts and inserts portfolios for new fingerprints.
func (f *Factory) Create(ctx context.Context) (FactoryResult, error) {
	log := zap.L().With(zap.String("component", "resolve.factory"))

	variants, err := f.store.ContactVariants(ctx, f.roles)
	if err != nil {
		return FactoryResult{}, eris.Wrap(err, "resolve: load contact variants")
	}
	groups := GroupByFingerprint(variants)
	log.Info("grouped contacts by fingerprint",
		zap.Int("variants", len(variants)),
		zap.Int("groups", len(groups)),
	)

	existing, err := f.store.ExistingFingerprints(ctx)
	if err != nil {
		return FactoryResult{}, eris.Wrap(err, "resolve: load existing fingerprints")
	}

	fresh := f.Build(groups, existing)
	res := FactoryResult{Groups: len(groups), Skipped: len(groups) - len(fresh)}
	if len(fresh) == 0 {
		log.Info("no new portfolios to create", zap.Int("skipped", res.Skipped))
		return res, nil
	}

	created, err := f.store.InsertPortfolios(ctx, fresh)
	if err != nil {
		return res, eris.Wrap(err, "resolve: insert portfolios")
	}
	res.Created = created
	log.Info("created portfolios",
		zap.Int64("created", created),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Build returns a new portfolio for every group whose fingerprint is not in
// existing, in group order.
func (f *Factory) Build(groups []Group, existing map[string]struct{}) []portfolio.Portfolio {
	var out []portfolio.Portfolio
	for _, g := range groups {
		if _, ok := existing[g.Fingerprint]; ok {
			continue
		}
		primary := g.Primary()
		out = append(out, portfolio.Portfolio{
			PrimaryName:       primary.FullName,
			NormalizedName:    primary.NormalizedName,
			NameHash:          g.Fingerprint,
			PrimaryAddress:    primary.BusinessAddress,
			NormalizedAddress: primary.NormalizedAddress,
			IsLLC:             f.classifier.IsEntity(primary.FullName),
		})
	}
	return out
}
