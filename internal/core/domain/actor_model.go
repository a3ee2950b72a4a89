package domain

const (
	ACTOR_ID_MASTER     = "master"
	ACTOR_ID_BRIDGE     = "bridge"
	ACTOR_ID_REGULATION = "regulation"
	ACTOR_ID_METER      = "meter"
)

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// RegulationTick triggers one regulation cycle.
type RegulationTick struct{}

// RegulationCycleDone reports completion of a background cycle run.
type RegulationCycleDone struct {
	ActorResponseMixIn
}

// MeterPowerChanged is sent when the smart-meter state changes and the
// published real-power estimate must be recomputed.
type MeterPowerChanged struct {
	GridPower float64
}

// SetRegulationEnabledRequest toggles the user-editable enabled flag.
type SetRegulationEnabledRequest struct {
	ActorRequestMixIn
	Enabled bool
}

type SetRegulationEnabledResponse struct {
	ActorResponseMixIn
}

// BridgeStateRequest asks the bridge adapter for its connection state.
type BridgeStateRequest struct {
	ActorRequestMixIn
}

type BridgeStateResponse struct {
	ActorResponseMixIn
	Connected bool
	UserID    string
}
