package taskqueue

import (
	"errors"

	"github.com/meridianai/controlplane/internal/controlerr"
	"github.com/meridianai/controlplane/pkg/modelprovider"
)

// classifyFailure maps an agent's returned error to the dispatcher's
// retry decision (spec §4.6): transient failures get exponential-backoff
// retries, permanent failures don't.
func classifyFailure(err error) FailureCause {
	if err == nil {
		return ""
	}
	var pe *modelprovider.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case modelprovider.Unavailable, modelprovider.Timeout:
			return CauseTransient
		default:
			return CausePermanent
		}
	}
	if controlerr.Is(err, controlerr.ValidationError) {
		return CausePermanent
	}
	return CausePermanent
}
