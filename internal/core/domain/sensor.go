package domain

const (
	SENSOR_ID_BRIDGE_CONNECTED = "bridge_connected"
	SENSOR_ID_GRID_POWER       = "grid_power"
	SENSOR_ID_REAL_POWER       = "real_power"
	SENSOR_ID_REGULATION_STATE = "regulation_state"

	SWITCH_ID_REGULATION_ENABLED = "regulation_enabled"
)
