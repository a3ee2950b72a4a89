package vendorwire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Header carries the routing and command metadata of one sub-message of a
// frame. Pdata holds the embedded payload whose schema is selected by the
// (CmdID, CmdFunc, device type) catalog lookup.
type Header struct {
	Pdata      []byte // field 1
	Src        int32  // field 2
	Dest       int32  // field 3
	DSrc       int32  // field 4
	DDest      int32  // field 5
	EncType    int32  // field 6
	CheckType  int32  // field 7
	CmdFunc    int32  // field 8
	CmdID      int32  // field 9
	DataLen    int32  // field 10
	NeedAck    int32  // field 11
	IsAck      int32  // field 12
	Seq        int32  // field 14
	ProductID  int32  // field 15
	Version    int32  // field 16
	PayloadVer int32  // field 17
	TimeSnap   int64  // field 18
	DeviceSN   string // field 25
}

// Frame is a length-delimited binary message of one or more headers.
type Frame struct {
	Headers []Header // field 1, repeated
}

var errTruncated = errors.New("vendorwire: truncated frame")

func (f *Frame) Marshal() []byte {
	var out []byte
	for i := range f.Headers {
		h := f.Headers[i].marshal()
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, h)
	}
	return out
}

func UnmarshalFrame(data []byte) (*Frame, error) {
	var f Frame
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("vendorwire: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num == 1 && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			h, err := unmarshalHeader(raw)
			if err != nil {
				return nil, err
			}
			f.Headers = append(f.Headers, *h)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, errTruncated
		}
		data = data[n:]
	}
	if len(f.Headers) == 0 {
		return nil, errors.New("vendorwire: frame without headers")
	}
	return &f, nil
}

func (h *Header) marshal() []byte {
	var out []byte
	if len(h.Pdata) > 0 {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, h.Pdata)
	}
	out = appendVarintField(out, 2, int64(h.Src))
	out = appendVarintField(out, 3, int64(h.Dest))
	out = appendVarintField(out, 4, int64(h.DSrc))
	out = appendVarintField(out, 5, int64(h.DDest))
	out = appendVarintField(out, 6, int64(h.EncType))
	out = appendVarintField(out, 7, int64(h.CheckType))
	out = appendVarintField(out, 8, int64(h.CmdFunc))
	out = appendVarintField(out, 9, int64(h.CmdID))
	out = appendVarintField(out, 10, int64(h.DataLen))
	out = appendVarintField(out, 11, int64(h.NeedAck))
	out = appendVarintField(out, 12, int64(h.IsAck))
	out = appendVarintField(out, 14, int64(h.Seq))
	out = appendVarintField(out, 15, int64(h.ProductID))
	out = appendVarintField(out, 16, int64(h.Version))
	out = appendVarintField(out, 17, int64(h.PayloadVer))
	out = appendVarintField(out, 18, h.TimeSnap)
	if h.DeviceSN != "" {
		out = protowire.AppendTag(out, 25, protowire.BytesType)
		out = protowire.AppendString(out, h.DeviceSN)
	}
	return out
}

func unmarshalHeader(data []byte) (*Header, error) {
	var h Header
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errTruncated
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			switch num {
			case 2:
				h.Src = int32(v)
			case 3:
				h.Dest = int32(v)
			case 4:
				h.DSrc = int32(v)
			case 5:
				h.DDest = int32(v)
			case 6:
				h.EncType = int32(v)
			case 7:
				h.CheckType = int32(v)
			case 8:
				h.CmdFunc = int32(v)
			case 9:
				h.CmdID = int32(v)
			case 10:
				h.DataLen = int32(v)
			case 11:
				h.NeedAck = int32(v)
			case 12:
				h.IsAck = int32(v)
			case 14:
				h.Seq = int32(v)
			case 15:
				h.ProductID = int32(v)
			case 16:
				h.Version = int32(v)
			case 17:
				h.PayloadVer = int32(v)
			case 18:
				h.TimeSnap = int64(v)
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			switch num {
			case 1:
				h.Pdata = append([]byte(nil), raw...)
			case 25:
				h.DeviceSN = string(raw)
			}
		default:
			// unknown wire type, skip the whole field
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
		}
	}
	return &h, nil
}

func appendVarintField(out []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return out
	}
	out = protowire.AppendTag(out, num, protowire.VarintType)
	return protowire.AppendVarint(out, uint64(v))
}
