package vendorwire

// DeviceType tags the closed set of supported vendor device families.
type DeviceType string

const (
	DeviceTypePS  DeviceType = "PS"  // power stream micro-inverter
	DeviceTypeDM  DeviceType = "DM"  // portable station, JSON control plane
	DeviceTypeD2  DeviceType = "D2"  // portable station, JSON control plane
	DeviceTypeD2M DeviceType = "D2M" // portable station, JSON control plane
	DeviceTypeSM  DeviceType = "SM"  // smart plug
)

// CatalogEntry maps a (command id, command function, device type) triple to
// its pdata template and write policy. The catalog is used bidirectionally:
// inbound frames resolve their decoder through it, outbound user writes
// resolve their command ids through it.
type CatalogEntry struct {
	CmdID    int32
	CmdFunc  int32
	Device   DeviceType
	Template Template
	// Writeable marks values mirrored as host-writeable states; writes to
	// those states are re-encoded into outgoing frames.
	Writeable bool
	ValueName string
	// Ignore marks known-but-uninteresting commands (time sync, acks).
	Ignore bool
}

// catalog is the immutable writeable-command catalog. Lookups return an
// explicit "found" flag; an unknown triple must never be treated as found.
var catalog = []CatalogEntry{
	// power stream
	{CmdID: 1, CmdFunc: 20, Device: DeviceTypePS, Template: TemplateInverterHeartbeat},
	{CmdID: 11, CmdFunc: 20, Device: DeviceTypePS, Template: TemplateSetValue, Writeable: true, ValueName: "invOnOff"},
	{CmdID: 129, CmdFunc: 20, Device: DeviceTypePS, Template: TemplateSetAC, Writeable: true, ValueName: "permanentWatts"},
	{CmdID: 130, CmdFunc: 20, Device: DeviceTypePS, Template: TemplateSupplyPriority, Writeable: true, ValueName: "supplyPriority"},
	{CmdID: 135, CmdFunc: 20, Device: DeviceTypePS, Template: TemplateSetValue, Writeable: true, ValueName: "lowerLimit"},
	{CmdID: 32, CmdFunc: 254, Device: DeviceTypePS, Ignore: true}, // time sync
	{CmdID: 136, CmdFunc: 20, Device: DeviceTypePS, Ignore: true}, // write ack echo
	{CmdID: 138, CmdFunc: 20, Device: DeviceTypePS, Ignore: true}, // ota status
	// smart plug
	{CmdID: 1, CmdFunc: 2, Device: DeviceTypeSM, Template: TemplatePlugHeartbeat},
	{CmdID: 129, CmdFunc: 2, Device: DeviceTypeSM, Template: TemplateSetValue, Writeable: true, ValueName: "plugSwitch"},
	{CmdID: 130, CmdFunc: 2, Device: DeviceTypeSM, Template: TemplateSetValue, Writeable: true, ValueName: "brightness"},
	{CmdID: 32, CmdFunc: 254, Device: DeviceTypeSM, Ignore: true},
}

// JSONEntry maps a (operate type, module type, device type) triple of the
// JSON control plane (DM/D2/D2M families) to its value field.
type JSONEntry struct {
	OperateType string
	ModuleType  int
	Device      DeviceType
	Writeable   bool
	ValueName   string
	Ignore      bool
}

var jsonCatalog = []JSONEntry{
	{OperateType: "acOutCfg", ModuleType: 5, Device: DeviceTypeDM, Writeable: true, ValueName: "acEnabled"},
	{OperateType: "standbyTime", ModuleType: 1, Device: DeviceTypeDM, Writeable: true, ValueName: "standbyMin"},
	{OperateType: "dcOutCfg", ModuleType: 5, Device: DeviceTypeD2, Writeable: true, ValueName: "dcEnabled"},
	{OperateType: "acOutCfg", ModuleType: 5, Device: DeviceTypeD2, Writeable: true, ValueName: "acEnabled"},
	{OperateType: "acOutCfg", ModuleType: 5, Device: DeviceTypeD2M, Writeable: true, ValueName: "acEnabled"},
	{OperateType: "maxChgSoc", ModuleType: 2, Device: DeviceTypeD2M, Writeable: true, ValueName: "maxChargeSoc"},
	{OperateType: "latestQuotas", ModuleType: 0, Device: DeviceTypeDM, Ignore: true},
	{OperateType: "latestQuotas", ModuleType: 0, Device: DeviceTypeD2, Ignore: true},
	{OperateType: "latestQuotas", ModuleType: 0, Device: DeviceTypeD2M, Ignore: true},
}

// SentinelAllOnes values mark "field not present" in the JSON control
// plane and must be dropped, not stored as data.
func SentinelAllOnes(v float64) bool {
	return v == 0xFFFF || v == 0xFFFFFFFF
}

// FindByCommand resolves a catalog entry from an inbound header.
func FindByCommand(cmdID, cmdFunc int32, dev DeviceType) (CatalogEntry, bool) {
	for _, e := range catalog {
		if e.CmdID == cmdID && e.CmdFunc == cmdFunc && e.Device == dev {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// FindByValueName resolves the catalog entry for an outbound user write.
func FindByValueName(name string, dev DeviceType) (CatalogEntry, bool) {
	for _, e := range catalog {
		if e.Writeable && e.ValueName == name && e.Device == dev {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// FindJSON resolves a JSON catalog entry for inbound control messages.
func FindJSON(operateType string, moduleType int, dev DeviceType) (JSONEntry, bool) {
	for _, e := range jsonCatalog {
		if e.OperateType == operateType && e.ModuleType == moduleType && e.Device == dev {
			return e, true
		}
	}
	return JSONEntry{}, false
}

// FindJSONByValueName resolves the JSON entry for an outbound user write.
func FindJSONByValueName(name string, dev DeviceType) (JSONEntry, bool) {
	for _, e := range jsonCatalog {
		if e.Writeable && e.ValueName == name && e.Device == dev {
			return e, true
		}
	}
	return JSONEntry{}, false
}

// WriteableEntries lists the writeable catalog entries of one device type,
// used to create placeholder writeable states on session start.
func WriteableEntries(dev DeviceType) []CatalogEntry {
	var out []CatalogEntry
	for _, e := range catalog {
		if e.Device == dev && e.Writeable {
			out = append(out, e)
		}
	}
	return out
}

// WriteableJSONEntries lists the writeable JSON catalog entries of one
// device type.
func WriteableJSONEntries(dev DeviceType) []JSONEntry {
	var out []JSONEntry
	for _, e := range jsonCatalog {
		if e.Device == dev && e.Writeable {
			out = append(out, e)
		}
	}
	return out
}

// IsBinaryFamily reports whether the device speaks the binary frame
// protocol (as opposed to the JSON control plane).
func IsBinaryFamily(dev DeviceType) bool {
	return dev == DeviceTypePS || dev == DeviceTypeSM
}
