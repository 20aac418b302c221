package observability

import (
	"strings"

	"github.com/smallbiznis/kwhtracker/internal/config"
)

// Config holds observability configuration derived from the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "kwhtracker"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.LogLevel,
		LogFormat:            cfg.LogFormat,
		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: cfg.OTLPEndpoint,
		OtelExporterProtocol: cfg.OTLPProtocol,
		OtelSamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func (c Config) Debug() bool {
	return c.LogLevel == "debug"
}
