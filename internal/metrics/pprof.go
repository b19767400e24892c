package metrics

import (
	"marketpulse/internal/config"

	"github.com/grafana/pyroscope-go"
)

// InitPProf starts continuous profiling; returns nil profiler when disabled
func InitPProf(instanceID string, cfg *config.PyroscopeConfig) (*pyroscope.Profiler, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	pTags := map[string]string{
		"instance": instanceID,
	}
	for k, v := range cfg.Tags {
		pTags[k] = v
	}

	appName := cfg.AppName
	if appName == "" {
		appName = "marketpulse.signalengine"
	}

	return pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   cfg.ServerAddr,
		AuthToken:       cfg.AuthToken,
		Logger:          pyroscope.StandardLogger,
		Tags:            pTags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,

			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,

			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
		},
	})
}
