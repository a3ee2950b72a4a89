package util

import (
	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/domain"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Regulation: config.RegulationConfig{
			EnabledStateID:      "gridpilot.enabled",
			MeterStateID:        "meter.grid_power",
			RealPowerStateID:    "gridpilot.real_power",
			GridPowerStateID:    "gridpilot.grid_power",
			IntervalSeconds:     15,
			BaseOffsetWatts:     25,
			MeterTimeoutSeconds: 120,
			MeterFallbackWatts:  0,
			LowestWindowMinutes: 2,
			LowestMode:          "min",
			Strategy:            "balanced",
			FeedInWindowSeconds: 60,
			Inverters: []domain.InverterConfig{
				{
					ID:         "inv1",
					Family:     domain.FamilyVendor,
					Serial:     "PS1234567890",
					MaxPower:   800,
					HasBattery: true,
					Regulate:   true,

					BattFullOnPct:     98,
					BattFullOffPct:    95,
					LowBatLimitOnPct:  10,
					LowBatLimitOffPct: 15,
					LowBatLimitWatts:  100,
				},
			},
		},
		Bridge: config.BridgeConfig{
			Enabled:  false,
			APIBase:  "https://api.example.invalid",
			Email:    "test@example.invalid",
			Password: "secret",
			Devices: []domain.VendorDevice{
				{Serial: "PS1234567890", Type: "PS", Powered: true},
			},
			ProbeTimeoutSeconds:  5,
			SilenceWindowMinutes: 5,
		},
		Port: 8080,
	}
}
