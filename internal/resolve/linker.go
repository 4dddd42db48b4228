package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

// orphanSampleSize caps the fingerprints carried by a DataIntegrityError.
const orphanSampleSize = 10

// VerifyReport is the result of an integrity check.
type VerifyReport struct {
	OrphanedContacts   int64    `json:"orphaned_contacts"`
	OrphanFingerprints []string `json:"orphan_fingerprints,omitempty"`
	UnlinkedContacts   int64    `json:"unlinked_contacts"`
}

// Linker fills in missing contact to portfolio links.
type Linker struct {
	store portfolio.Store
	roles []string
}

// NewLinker creates a Linker restricted to the given contact roles.
func NewLinker(store portfolio.Store, roles []string) *Linker {
	return &Linker{store: store, roles: roles}
}

// Link sets the portfolio of every unlinked eligible contact whose
// fingerprint is covered. Linked contacts are never touched.
func (l *Linker) Link(ctx context.Context) (int64, error) {
	n, err := l.store.LinkContacts(ctx, l.roles)
	if err != nil {
		return n, eris.Wrap(err, "resolve: link contacts")
	}
	zap.L().With(zap.String("component", "resolve.linker")).
		Info("linked contacts", zap.Int64("linked", n))
	return n, nil
}

// Verify reports orphaned fingerprints and unlinked contacts. Orphans are
// returned as a *portfolio.DataIntegrityError alongside the report.
func (l *Linker) Verify(ctx context.Context) (*VerifyReport, error) {
	sample, orphaned, err := l.store.OrphanedFingerprints(ctx, l.roles, orphanSampleSize)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: find orphaned fingerprints")
	}
	unlinked, err := l.store.UnlinkedContacts(ctx, l.roles)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: count unlinked contacts")
	}

	report := &VerifyReport{
		OrphanedContacts:   orphaned,
		OrphanFingerprints: sample,
		UnlinkedContacts:   unlinked,
	}
	if orphaned > 0 {
		return report, &portfolio.DataIntegrityError{Fingerprints: sample, Contacts: orphaned}
	}
	return report, nil
}
