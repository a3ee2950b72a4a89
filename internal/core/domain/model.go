package domain

import "time"

type DeviceFamily string

const (
	FamilyGeneric DeviceFamily = "generic"
	FamilyVendor  DeviceFamily = "vendor"
)

// InverterConfig is the static configuration of one regulated inverter.
// State bindings are opaque ids resolved through the host state store.
type InverterConfig struct {
	ID     string       `mapstructure:"id"`
	Family DeviceFamily `mapstructure:"family"`
	// Serial identifies the device on the vendor cloud (Family == vendor).
	Serial   string  `mapstructure:"serial"`
	MaxPower float64 `mapstructure:"max_power"`

	HasBattery bool `mapstructure:"has_battery"`
	Regulate   bool `mapstructure:"regulate"`

	OutputStateID   string `mapstructure:"output_state_id"`
	SOCStateID      string `mapstructure:"soc_state_id"`
	PVStateID       string `mapstructure:"pv_state_id"`
	PriorityStateID string `mapstructure:"priority_state_id"`
	// CommandStateID receives set-points for generic-family devices.
	CommandStateID string `mapstructure:"command_state_id"`
	// ChargeStateID reports battery charge power (negative while charging).
	ChargeStateID string `mapstructure:"charge_state_id"`

	BattFullOnPct     float64 `mapstructure:"batt_full_on_pct"`
	BattFullOffPct    float64 `mapstructure:"batt_full_off_pct"`
	LowBatLimitOnPct  float64 `mapstructure:"low_bat_limit_on_pct"`
	LowBatLimitOffPct float64 `mapstructure:"low_bat_limit_off_pct"`
	LowBatLimitWatts  float64 `mapstructure:"low_bat_limit_watts"`

	OffSwitchesPriority bool    `mapstructure:"off_switches_priority"`
	OffDemandThreshold  float64 `mapstructure:"off_demand_threshold"`
	// OffPower is the policy while regulation is disabled: >= 0 fixed
	// watts, -2 priority mode.
	OffPower float64 `mapstructure:"off_power"`
}

// GapWindowSize is the length of the sliding lag-gap sample window.
const GapWindowSize = 3

// InverterRuntime is the engine-owned mutable state for one inverter.
// Entries exist 1:1 with configured, regulation-enabled inverters; created
// at engine construction and mutated only inside one regulation cycle.
type InverterRuntime struct {
	LastCommanded float64
	FullPower     bool
	// ExtraPower is the extra feed-in allowance ramped while the battery
	// charges near full power.
	ExtraPower      float64
	TempMaxPower    float64
	TempPriorityOff bool

	GapSamples []float64
	GapAvg     float64
	Gap        float64

	LastWrite     time.Time
	PrioritySince time.Time

	Output      float64
	SOC         float64
	PV          float64
	ChargePower float64

	// Active marks the inverter as regulated in the current cycle.
	Active bool
}

// PushGap appends a lag-gap sample to the fixed-length sliding window and
// refreshes the rolling average.
func (r *InverterRuntime) PushGap(gap float64) {
	r.Gap = gap
	r.GapSamples = append(r.GapSamples, gap)
	if len(r.GapSamples) > GapWindowSize {
		r.GapSamples = r.GapSamples[len(r.GapSamples)-GapWindowSize:]
	}
	var sum float64
	for _, v := range r.GapSamples {
		sum += v
	}
	r.GapAvg = sum / float64(len(r.GapSamples))
}

// VendorDevice is one device of the cloud-vendor fleet known to the bridge.
type VendorDevice struct {
	Serial string `mapstructure:"serial"`
	// Type is one of the vendorwire device type tags (PS, DM, D2, D2M, SM).
	Type      string `mapstructure:"type"`
	Subscribe bool   `mapstructure:"subscribe"`
	Powered   bool   `mapstructure:"powered"`
}

// FeedInSource is an additional non-regulated feed-in source folded into
// the regulation target.
type FeedInSource struct {
	StateID       string  `mapstructure:"state_id"`
	Factor        float64 `mapstructure:"factor"`
	Offset        float64 `mapstructure:"offset"`
	ExcludeFeedIn bool    `mapstructure:"exclude_feed_in"`
	ExcludePV     bool    `mapstructure:"exclude_pv"`
}
