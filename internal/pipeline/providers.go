package pipeline

import (
	"fmt"

	"scenepipe/internal/config"
	"scenepipe/internal/media"
	"scenepipe/internal/provider"
)

// NewGenerator builds the provider adapter a stage is configured with.
func NewGenerator(sc config.StageConfig) (provider.Generator, error) {
	switch sc.Provider {
	case config.ProviderMock, "":
		return provider.NewMock("mock", sc.MockLatency), nil
	case config.ProviderHTTP:
		return provider.NewHTTPGenerator(sc.Endpoint, sc.APIKey, sc.CallTimeout), nil
	case config.ProviderExec:
		return provider.NewExecGenerator(sc.Command, sc.WorkDir), nil
	}
	return nil, fmt.Errorf("unknown provider %q", sc.Provider)
}

// GeneratorsFromConfig builds one adapter per stage.
func GeneratorsFromConfig(cfg *config.Config) (map[media.Stage]provider.Generator, error) {
	out := make(map[media.Stage]provider.Generator, len(media.Stages))
	for _, stage := range media.Stages {
		g, err := NewGenerator(cfg.Stage(stage))
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		out[stage] = g
	}
	return out, nil
}
