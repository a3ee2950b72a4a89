package port

// VendorGateway is the capability the regulation engine gets from the
// device protocol bridge for cloud-vendor inverters. The engine depends on
// nothing else of the bridge.
type VendorGateway interface {
	// ReadAuxiliaryField returns a decoded telemetry field of the device's
	// heartbeat record, or false if the field has not been received yet.
	ReadAuxiliaryField(serial, field string) (float64, bool)
	// SetPoint commands the device output set-point in watts.
	SetPoint(serial string, watts float64) error
	// SetPriority switches the vendor-side battery priority mode.
	SetPriority(serial string, on bool) error
	Connected() bool
}
