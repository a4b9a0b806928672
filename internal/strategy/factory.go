package strategy

import "fmt"

// Mode selects the signal strategy for a deployment.
type Mode string

const (
	ModeThreshold  Mode = "threshold"
	ModeConfluence Mode = "confluence"
)

// New builds the strategy for the configured mode. Called once at startup;
// the mode never changes at runtime.
func New(mode Mode, thr ThresholdConfig, conf ConfluenceConfig, open OpenChecker) (Strategy, error) {
	switch mode {
	case ModeThreshold:
		return NewThreshold(thr), nil
	case ModeConfluence:
		return NewConfluence(conf, open), nil
	default:
		return nil, fmt.Errorf("strategy: unknown mode %q", mode)
	}
}
