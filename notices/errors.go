// CLAUDE:SUMMARY Sentinel errors for the notices service: invalid configuration, concurrent run, ledger failure.
package notices

import (
	"errors"

	"github.com/hazyhaar/avis/notices/internal/ledger"
	"github.com/hazyhaar/avis/notices/internal/runlock"
)

// ErrConfig is returned when required configuration is missing or invalid.
var ErrConfig = errors.New("notices: invalid configuration")

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = runlock.ErrRunInProgress

// ErrLedger is returned when the sent ledger cannot be read or written.
var ErrLedger = ledger.ErrLedger
