package events

import (
	. "github.com/gridpilot/gridpilot/internal/core/domain"
)

func BridgeStateUpdateEvents(connected bool) []any {
	var events []any
	events = append(events, BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_CONNECTED,
		},
		Value: connected,
	})
	return events
}

func GridPowerUpdateEvents(watts float64) []any {
	var events []any
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_GRID_POWER,
		},
		Value:    watts,
		Decimals: 0,
	})
	return events
}

func RealPowerUpdateEvents(watts float64) []any {
	var events []any
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_REAL_POWER,
		},
		Value:    watts,
		Decimals: 0,
	})
	return events
}

func RegulationEnabledUpdateEvents(enabled bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_REGULATION_ENABLED,
		},
		Value: enabled,
	}
}

func RegulationStateUpdateEvents(state string) any {
	return TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_REGULATION_STATE,
		},
		Value: state,
	}
}
