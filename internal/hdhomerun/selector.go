package hdhomerun

import (
	"errors"

	"github.com/attaebra/hdhr-stream/internal/interfaces"
	"github.com/attaebra/hdhr-stream/internal/logger"
	"github.com/attaebra/hdhr-stream/internal/metrics"
)

// ErrNoFreeTuner is returned when every candidate tuner is busy or unreachable.
var ErrNoFreeTuner = errors.New("no free tuner")

// Selector picks the first available tuner in candidate order and locks it.
type Selector struct{}

// Ensure Selector implements the Selector interface.
var _ interfaces.Selector = (*Selector)(nil)

// NewSelector creates a Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// ChooseAndLock returns the first tuner that reports available and accepts
// the lock. Lock conflicts with other clients move on to the next candidate.
func (s *Selector) ChooseAndLock(tuners []interfaces.Tuner) (interfaces.Tuner, error) {
	for _, t := range tuners {
		ok, err := t.Available()
		if err != nil {
			logger.Debug("Tuner unreachable",
				logger.String("tuner", t.Name()), logger.ErrorField("error", err))
			continue
		}
		if !ok {
			continue
		}
		if err := t.Lock(); err != nil {
			logger.Debug("Tuner lock refused",
				logger.String("tuner", t.Name()), logger.ErrorField("error", err))
			continue
		}
		metrics.IncTunerSelect("locked")
		return t, nil
	}
	metrics.IncTunerSelect("none_free")
	return nil, ErrNoFreeTuner
}
