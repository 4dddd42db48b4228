package portfolio

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPassInProgress is returned when another resolution pass holds the lease.
var ErrPassInProgress = errors.New("portfolio: another resolution pass is in progress")

// DataIntegrityError reports contacts whose fingerprint matches no portfolio
// after the creation phase. It signals a logic bug, not a transient failure.
type DataIntegrityError struct {
	Fingerprints []string // sample of orphaned fingerprints
	Contacts     int64    // total orphaned contacts
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("portfolio: %d contacts reference fingerprints with no portfolio (e.g. %s)",
		e.Contacts, strings.Join(e.Fingerprints, ", "))
}

// ConcurrentModificationError reports a merge target that disappeared before
// its batch was applied, which only happens when two writers overlap.
type ConcurrentModificationError struct {
	SourceID int64
	TargetID int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("portfolio: merge target %d (for source %d) no longer exists", e.TargetID, e.SourceID)
}

// IsDataIntegrity reports whether err wraps a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var e *DataIntegrityError
	return errors.As(err, &e)
}

// IsConcurrentModification reports whether err wraps a ConcurrentModificationError.
func IsConcurrentModification(err error) bool {
	var e *ConcurrentModificationError
	return errors.As(err, &e)
}
