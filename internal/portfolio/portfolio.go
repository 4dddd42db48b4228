// Package portfolio defines the owner portfolio model, the contact linkage it
// is resolved from, and the stores that persist both.
package portfolio

import (
	"time"
)

// Owner-role contact types. Contacts outside this set are never resolved.
const (
	RoleOwner           = "Owner"
	RoleHeadOfficer     = "HeadOfficer"
	RoleIndividualOwner = "IndividualOwner"
	RoleCorporateOwner  = "CorporateOwner"
	RoleJointOwner      = "JointOwner"
	RoleOfficer         = "Officer"
	RoleShareholder     = "Shareholder"
)

// OwnerRoles returns the default owner-role contact types.
func OwnerRoles() []string {
	return []string{
		RoleOwner, RoleHeadOfficer, RoleIndividualOwner,
		RoleCorporateOwner, RoleJointOwner, RoleOfficer, RoleShareholder,
	}
}

// ContactRecord is a registration contact as loaded by the ETL layer.
// NameHash is empty when the upstream layer produced no fingerprint.
type ContactRecord struct {
	ID                int64  `json:"id" db:"id"`
	RegistrationID    int64  `json:"registration_id" db:"registration_id"`
	ContactType       string `json:"contact_type" db:"contact_type"`
	FullName          string `json:"full_name" db:"full_name"`
	CorporationName   string `json:"corporation_name,omitempty" db:"corporation_name"`
	BusinessAddress   string `json:"business_address,omitempty" db:"business_address"`
	NormalizedName    string `json:"normalized_name" db:"normalized_name"`
	NormalizedAddress string `json:"normalized_address,omitempty" db:"normalized_address"`
	NameHash          string `json:"name_hash,omitempty" db:"name_hash"`
	PortfolioID       *int64 `json:"owner_portfolio_id,omitempty" db:"owner_portfolio_id"`
}

// ContactVariant is one distinct name+address combination observed under a
// fingerprint, with the number of contact rows citing it.
type ContactVariant struct {
	NameHash          string `json:"name_hash" db:"name_hash"`
	FullName          string `json:"full_name" db:"full_name"`
	NormalizedName    string `json:"normalized_name" db:"normalized_name"`
	NormalizedAddress string `json:"normalized_address,omitempty" db:"normalized_address"`
	BusinessAddress   string `json:"business_address,omitempty" db:"business_address"`
	CorporationName   string `json:"corporation_name,omitempty" db:"corporation_name"`
	ContactCount      int64  `json:"contact_count" db:"contact_count"`
}

// ViolationCounts splits violations by HPD severity class.
type ViolationCounts struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
	C int64 `json:"c"`
}

// Portfolio is the canonical ownership entity. The Total* fields are a cache
// refreshed by the stats pass and are never authoritative.
type Portfolio struct {
	ID                int64           `json:"id" db:"id"`
	PrimaryName       string          `json:"primary_name" db:"primary_name"`
	NormalizedName    string          `json:"normalized_name" db:"normalized_name"`
	NameHash          string          `json:"name_hash" db:"name_hash"`
	PrimaryAddress    string          `json:"primary_address,omitempty" db:"primary_address"`
	NormalizedAddress string          `json:"normalized_address,omitempty" db:"normalized_address"`
	IsLLC             bool            `json:"is_llc" db:"is_llc"`
	TotalBuildings    int64           `json:"total_buildings" db:"total_buildings"`
	TotalUnits        int64           `json:"total_units" db:"total_units"`
	TotalViolations   int64           `json:"total_violations" db:"total_violations"`
	Violations        ViolationCounts `json:"violations_by_class"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// MergeEdge folds Source into Target during a fuzzy merge pass.
type MergeEdge struct {
	SourceID   int64   `json:"source_id"`
	TargetID   int64   `json:"target_id"`
	SourceName string  `json:"source_name"`
	TargetName string  `json:"target_name"`
	Similarity float64 `json:"similarity"`
}

// MergeBatchResult is the outcome of applying one batch of merge edges.
type MergeBatchResult struct {
	Applied           int   `json:"applied"`
	Skipped           int   `json:"skipped"` // source already gone
	ContactsRepointed int64 `json:"contacts_repointed"`
}

// Add accumulates another batch result.
func (r *MergeBatchResult) Add(o MergeBatchResult) {
	r.Applied += o.Applied
	r.Skipped += o.Skipped
	r.ContactsRepointed += o.ContactsRepointed
}

// Registration ties a contact's registration to a building (BBL).
type Registration struct {
	RegistrationID int64  `json:"registration_id" db:"registration_id"`
	BBL            string `json:"bbl" db:"bbl"`
}

// Building carries the per-building rollup inputs: unit count from the
// buildings table and violation counts from building_scores.
type Building struct {
	BBL             string          `json:"bbl" db:"bbl"`
	TotalUnits      int64           `json:"total_units" db:"total_units"`
	TotalViolations int64           `json:"total_violations" db:"total_violations"`
	Violations      ViolationCounts `json:"violations_by_class"`
}

// Run kinds.
const (
	RunResolve    = "resolve"
	RunFuzzyMerge = "fuzzy_merge"
	RunStats      = "stats"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// Run is a row in resolution_runs.
type Run struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
