package config

import (
	"errors"

	"github.com/gridpilot/gridpilot/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level

	Regulation RegulationConfig `mapstructure:"regulation"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Meter      MeterConfig      `mapstructure:"meter"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type RegulationConfig struct {
	// EnabledStateID is the host-editable on/off flag of the whole loop.
	EnabledStateID string `mapstructure:"enabled_state_id"`
	// MeterStateID is the smart-meter grid power reading.
	MeterStateID string `mapstructure:"meter_state_id"`
	// RealPowerStateID receives the published real-power estimate.
	RealPowerStateID string `mapstructure:"real_power_state_id"`
	// GridPowerStateID mirrors the (possibly substituted) grid reading.
	GridPowerStateID string `mapstructure:"grid_power_state_id"`

	IntervalSeconds     uint32  `mapstructure:"interval_seconds"`
	BaseOffsetWatts     float64 `mapstructure:"base_offset_watts"`
	MeterTimeoutSeconds uint32  `mapstructure:"meter_timeout_seconds"`
	MeterFallbackWatts  float64 `mapstructure:"meter_fallback_watts"`
	LowestWindowMinutes uint32  `mapstructure:"lowest_window_minutes"`
	LowestMode          string  `mapstructure:"lowest_mode"` // min or avg
	Strategy            string  `mapstructure:"strategy"`    // serial or balanced
	ReverseOrder        bool    `mapstructure:"reverse_order"`
	FeedInWindowSeconds uint32  `mapstructure:"feed_in_window_seconds"`

	Inverters     []domain.InverterConfig `mapstructure:"inverters"`
	FeedInSources []domain.FeedInSource   `mapstructure:"feed_in_sources"`

	ExcessCharge ExcessChargeConfig `mapstructure:"excess_charge"`
}

// ExcessChargeConfig drives the secondary load absorbing feed-in surplus.
type ExcessChargeConfig struct {
	SwitchStateID string `mapstructure:"switch_state_id"`
	PowerStateID  string `mapstructure:"power_state_id"`
	SOCStateID    string `mapstructure:"soc_state_id"`

	StartThresholdWatts float64 `mapstructure:"start_threshold_watts"`
	StopThresholdWatts  float64 `mapstructure:"stop_threshold_watts"`
	MaxPowerWatts       float64 `mapstructure:"max_power_watts"`
	OffsetWatts         float64 `mapstructure:"offset_watts"`
	StepWatts           float64 `mapstructure:"step_watts"`
	StartDelaySeconds   uint32  `mapstructure:"start_delay_seconds"`
	MinRetriggerSeconds uint32  `mapstructure:"min_retrigger_seconds"`
	SOCMaxPct           float64 `mapstructure:"soc_max_pct"`
	SOCOffPct           float64 `mapstructure:"soc_off_pct"`
}

type BridgeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIBase  string `mapstructure:"api_base"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`

	Devices []domain.VendorDevice `mapstructure:"devices"`

	ProbeTimeoutSeconds  uint32 `mapstructure:"probe_timeout_seconds"`
	SilenceWindowMinutes uint32 `mapstructure:"silence_window_minutes"`
}

// MeterConfig is the optional built-in Modbus smart-meter poller for
// installations where the host does not supply the meter state itself.
type MeterConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Host               string `mapstructure:"host"`
	Port               uint   `mapstructure:"port"`
	UnitID             uint   `mapstructure:"unit_id"`
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

func (c *Config) Validate() error {
	if c.Regulation.IntervalSeconds < 5 {
		return errors.New("config param regulation.interval_seconds should be >= 5")
	}
	if c.Regulation.LowestMode != "min" && c.Regulation.LowestMode != "avg" {
		return errors.New("config param regulation.lowest_mode should be min or avg")
	}
	if c.Regulation.Strategy != "serial" && c.Regulation.Strategy != "balanced" {
		return errors.New("config param regulation.strategy should be serial or balanced")
	}
	for i := range c.Regulation.Inverters {
		inv := &c.Regulation.Inverters[i]
		if inv.ID == "" {
			return errors.New("config param regulation.inverters[].id is required")
		}
		if inv.MaxPower <= 0 {
			return errors.New("config param regulation.inverters[].max_power should be > 0")
		}
		if inv.Family == domain.FamilyVendor && inv.Serial == "" {
			return errors.New("config param regulation.inverters[].serial is required for vendor devices")
		}
	}
	if c.Bridge.Enabled {
		if c.Bridge.Email == "" || c.Bridge.Password == "" {
			return errors.New("config params bridge.email and bridge.password are required")
		}
		if len(c.Bridge.Devices) == 0 {
			return errors.New("config param bridge.devices must not be empty")
		}
	}
	if c.Meter.Enabled && c.Meter.PollIntervalMillis < 1000 {
		return errors.New("config param meter.poll_interval_millis should be >= 1000")
	}
	return nil
}
