package commands

import (
	"sapn-exporter/lib/configutil"
	"sapn-exporter/services/exporter"
	"sapn-exporter/services/pipeline"
)

type Config struct {
	Username string `json:"username"`
	Password string `json:"password"`
	NMI      string `json:"nmi"`
	// defaults to the production portal
	BaseUrl string `json:"base_url"`
	// local hour of the daily scrape, defaults to 4am
	ScrapeHour int `json:"scrape_hour"`
	// defaults to 9120
	MetricsPort int `json:"metrics_port"`
	// nil disables the InfluxDB sink
	InfluxDb *exporter.InfluxConfig `json:"influxdb"`
}

func readConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return Config{}, err
	}
	if cfg.ScrapeHour == 0 {
		cfg.ScrapeHour = 4
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = exporter.DefaultMetricsPort
	}
	return cfg, nil
}

func (c Config) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		BaseUrl:  c.BaseUrl,
		Username: c.Username,
		Password: c.Password,
		NMI:      c.NMI,
	}
}
