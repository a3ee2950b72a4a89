package vendorwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Template names the pdata schema used to decode or build a payload.
type Template string

const (
	TemplateInverterHeartbeat Template = "inverterHeartbeat"
	TemplatePlugHeartbeat     Template = "plugHeartbeat"
	TemplateSetValue          Template = "setValue"
	TemplateSetAC             Template = "permanentWatts"
	TemplateSupplyPriority    Template = "supplyPriority"
)

// InverterHeartbeat is the periodic telemetry record of a power-stream
// class device. Power fields are raw protocol units (deciwatt, watts x10).
type InverterHeartbeat struct {
	PV1InputWatts  int32 // field 1
	PV2InputWatts  int32 // field 2
	BatInputWatts  int32 // field 3, negative while charging
	BatSoc         int32 // field 4
	PermanentWatts int32 // field 5
	DynamicWatts   int32 // field 6
	InvOutputWatts int32 // field 7
	InvOnOff       int32 // field 8
	RatedPower     int32 // field 9
	LowerLimit     int32 // field 10
	UpperLimit     int32 // field 11
	InvErrCode     int32 // field 12
	Timestamp      int64 // field 13, normalized out before deduplication
}

// PlugHeartbeat is the telemetry record of a smart-plug device.
type PlugHeartbeat struct {
	SwitchStatus int32 // field 1
	Watts        int32 // field 2, deciwatt
	Temp         int32 // field 3
	Timestamp    int64 // field 4
}

// SetValue is the generic single-value write payload.
type SetValue struct {
	Value int32 // field 1
}

// DecodePdata decodes a pdata payload per its catalog template into a flat
// field map keyed by the template's field names.
func DecodePdata(tmpl Template, data []byte) (map[string]any, error) {
	switch tmpl {
	case TemplateInverterHeartbeat:
		hb, err := decodeInverterHeartbeat(data)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"pv1InputWatts":  hb.PV1InputWatts,
			"pv2InputWatts":  hb.PV2InputWatts,
			"batInputWatts":  hb.BatInputWatts,
			"batSoc":         hb.BatSoc,
			"permanentWatts": hb.PermanentWatts,
			"dynamicWatts":   hb.DynamicWatts,
			"invOutputWatts": hb.InvOutputWatts,
			"invOnOff":       hb.InvOnOff,
			"ratedPower":     hb.RatedPower,
			"lowerLimit":     hb.LowerLimit,
			"upperLimit":     hb.UpperLimit,
			"invErrCode":     hb.InvErrCode,
			"timestamp":      hb.Timestamp,
		}, nil
	case TemplatePlugHeartbeat:
		hb, err := decodePlugHeartbeat(data)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"switchStatus": hb.SwitchStatus,
			"watts":        hb.Watts,
			"temp":         hb.Temp,
			"timestamp":    hb.Timestamp,
		}, nil
	case TemplateSetValue, TemplateSetAC, TemplateSupplyPriority:
		v, err := decodeSetValue(data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": v.Value}, nil
	default:
		return nil, fmt.Errorf("vendorwire: no decoder for template %q", tmpl)
	}
}

// EncodeSetValue builds the generic single-value write payload.
func EncodeSetValue(value int32) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(uint32(value)))
	return out
}

func decodeInverterHeartbeat(data []byte) (*InverterHeartbeat, error) {
	var hb InverterHeartbeat
	err := walkVarints(data, func(num protowire.Number, v uint64) {
		switch num {
		case 1:
			hb.PV1InputWatts = int32(v)
		case 2:
			hb.PV2InputWatts = int32(v)
		case 3:
			hb.BatInputWatts = int32(v)
		case 4:
			hb.BatSoc = int32(v)
		case 5:
			hb.PermanentWatts = int32(v)
		case 6:
			hb.DynamicWatts = int32(v)
		case 7:
			hb.InvOutputWatts = int32(v)
		case 8:
			hb.InvOnOff = int32(v)
		case 9:
			hb.RatedPower = int32(v)
		case 10:
			hb.LowerLimit = int32(v)
		case 11:
			hb.UpperLimit = int32(v)
		case 12:
			hb.InvErrCode = int32(v)
		case 13:
			hb.Timestamp = int64(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

func decodePlugHeartbeat(data []byte) (*PlugHeartbeat, error) {
	var hb PlugHeartbeat
	err := walkVarints(data, func(num protowire.Number, v uint64) {
		switch num {
		case 1:
			hb.SwitchStatus = int32(v)
		case 2:
			hb.Watts = int32(v)
		case 3:
			hb.Temp = int32(v)
		case 4:
			hb.Timestamp = int64(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

func decodeSetValue(data []byte) (*SetValue, error) {
	var sv SetValue
	err := walkVarints(data, func(num protowire.Number, v uint64) {
		if num == 1 {
			sv.Value = int32(v)
		}
	})
	if err != nil {
		return nil, err
	}
	return &sv, nil
}

// walkVarints iterates all varint fields of data and skips everything
// else, including unknown field numbers.
func walkVarints(data []byte, fn func(num protowire.Number, v uint64)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errTruncated
		}
		data = data[n:]
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errTruncated
			}
			data = data[n:]
			fn(num, v)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return errTruncated
		}
		data = data[n:]
	}
	return nil
}

// EncodeInverterHeartbeat builds a heartbeat payload. Used by tests and by
// the session's placeholder bootstrapping.
func EncodeInverterHeartbeat(hb *InverterHeartbeat) []byte {
	var out []byte
	appendField := func(num protowire.Number, v int64) {
		if v == 0 {
			return
		}
		out = protowire.AppendTag(out, num, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(v))
	}
	appendField(1, int64(hb.PV1InputWatts))
	appendField(2, int64(hb.PV2InputWatts))
	appendField(3, int64(uint32(hb.BatInputWatts)))
	appendField(4, int64(hb.BatSoc))
	appendField(5, int64(hb.PermanentWatts))
	appendField(6, int64(hb.DynamicWatts))
	appendField(7, int64(hb.InvOutputWatts))
	appendField(8, int64(hb.InvOnOff))
	appendField(9, int64(hb.RatedPower))
	appendField(10, int64(hb.LowerLimit))
	appendField(11, int64(hb.UpperLimit))
	appendField(12, int64(hb.InvErrCode))
	appendField(13, hb.Timestamp)
	return out
}

// EncodePlugHeartbeat builds a plug heartbeat payload. Used by tests.
func EncodePlugHeartbeat(hb *PlugHeartbeat) []byte {
	var out []byte
	appendField := func(num protowire.Number, v int64) {
		if v == 0 {
			return
		}
		out = protowire.AppendTag(out, num, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(v))
	}
	appendField(1, int64(hb.SwitchStatus))
	appendField(2, int64(hb.Watts))
	appendField(3, int64(hb.Temp))
	appendField(4, hb.Timestamp)
	return out
}
