package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gridpilot/gridpilot/internal/state"
	"github.com/gridpilot/gridpilot/pkg/vendorwire"

	"go.uber.org/zap"
)

// jsonEnvelope is the framing of the JSON control plane shared by all
// portable-station families.
type jsonEnvelope struct {
	Version     string         `json:"version,omitempty"`
	ModuleType  int            `json:"moduleType"`
	OperateType string         `json:"operateType"`
	Params      map[string]any `json:"params,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// handleMessage routes one inbound payload. JSON is tried first because
// station families share topics with binary power-stream devices; anything
// that fails JSON parsing falls through to the binary frame decoder.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	b.noteTopic(topic)
	serial := serialFromTopic(topic)

	if env, ok := parseEnvelope(payload); ok {
		b.dispatchJSON(topic, serial, env)
		return
	}

	frame, err := vendorwire.UnmarshalFrame(payload)
	if err != nil {
		b.logger.Debug("undecodable payload",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	b.dispatchFrame(topic, serial, frame)
}

// dispatchJSON handles control-plane messages of the DM/D2/D2M families.
// All-ones sentinel values mean "field not reported" and are dropped.
func (b *Bridge) dispatchJSON(topic, serial string, env *jsonEnvelope) {
	dev, known := b.deviceBySerial(serial)
	if !known {
		return
	}
	b.markSeen(serial)

	devType := vendorwire.DeviceType(dev.Type)
	entry, found := vendorwire.FindJSON(env.OperateType, env.ModuleType, devType)
	if found && entry.Ignore {
		return
	}

	fields := env.Params
	if len(fields) == 0 {
		fields = env.Data
	}
	if len(fields) == 0 {
		return
	}

	kept := make(map[string]any, len(fields))
	for k, v := range fields {
		n := state.Numeric(v)
		if vendorwire.SentinelAllOnes(n) {
			continue
		}
		kept[k] = v
	}
	if len(kept) == 0 {
		return
	}
	if b.dedupe.Suppress(topic, env.OperateType, kept) {
		return
	}
	for k, v := range kept {
		b.store.Write(fmt.Sprintf("vendor.%s.%s.%s", serial, env.OperateType, k), v, true)
	}
	if found && entry.Writeable {
		b.mirrorCommandAck(serial, entry.ValueName, kept)
	}
}

// dispatchFrame decodes each header of a binary frame through the catalog.
// Unknown commands are skipped; only non-zero command ids are logged so
// keepalive padding stays out of the log.
func (b *Bridge) dispatchFrame(topic, serial string, frame *vendorwire.Frame) {
	for i := range frame.Headers {
		h := &frame.Headers[i]

		hdrSerial := serial
		if h.DeviceSN != "" {
			if _, known := b.deviceBySerial(h.DeviceSN); known {
				hdrSerial = h.DeviceSN
			}
		}
		dev, known := b.deviceBySerial(hdrSerial)
		if !known {
			continue
		}
		// any decodable frame from a known device counts as alive, even
		// when no catalog entry matches
		b.markSeen(hdrSerial)
		devType := vendorwire.DeviceType(dev.Type)
		if !vendorwire.IsBinaryFamily(devType) {
			continue
		}

		entry, found := vendorwire.FindByCommand(h.CmdID, h.CmdFunc, devType)
		if !found {
			if h.CmdID != 0 {
				b.logger.Debug("unknown command",
					zap.Int32("cmdId", h.CmdID), zap.Int32("cmdFunc", h.CmdFunc),
					zap.String("serial", hdrSerial))
			}
			continue
		}
		if entry.Ignore {
			continue
		}

		fields, err := vendorwire.DecodePdata(entry.Template, h.Pdata)
		if err != nil {
			b.logger.Debug("pdata decode failed",
				zap.Int32("cmdId", h.CmdID), zap.Error(err))
			continue
		}
		if b.dedupe.Suppress(topic, string(entry.Template), fields) {
			continue
		}
		for k, v := range fields {
			b.store.Write(b.fieldStateID(hdrSerial, entry.Template, k), v, true)
		}
		if entry.Writeable && strings.HasSuffix(topic, "/set") {
			b.mirrorCommandAck(hdrSerial, entry.ValueName, fields)
		}
	}
}

// mirrorCommandAck echoes a device-confirmed value into the writeable
// command state with ack set, so pending user intents settle.
func (b *Bridge) mirrorCommandAck(serial, valueName string, fields map[string]any) {
	v, ok := fields["value"]
	if !ok {
		v, ok = fields[valueName]
	}
	if !ok {
		return
	}
	b.store.Write(b.commandStateID(serial, valueName), v, true)
}

// forwardWrite turns a user write of a command state into an outgoing
// message, binary frame or JSON envelope depending on the device family.
func (b *Bridge) forwardWrite(dev vendorDevice, entry vendorwire.CatalogEntry, value float64) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	b.publish(b.setTopic(dev.Serial), b.buildFrame(dev, entry, int32(value)))
	return nil
}

// forwardJSONWrite is the JSON control plane counterpart of forwardWrite.
func (b *Bridge) forwardJSONWrite(dev vendorDevice, entry vendorwire.JSONEntry, value float64) error {
	if !b.Connected() {
		return ErrNotConnected
	}
	env := jsonEnvelope{
		Version:     "1.1",
		ModuleType:  entry.ModuleType,
		OperateType: entry.OperateType,
		Params:      map[string]any{entry.ValueName: value},
	}
	payload, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	b.publish(b.setTopic(dev.Serial), payload)
	return nil
}

// buildFrame wraps one write payload in the binary frame envelope.
func (b *Bridge) buildFrame(dev vendorDevice, entry vendorwire.CatalogEntry, value int32) []byte {
	pdata := vendorwire.EncodeSetValue(value)
	f := vendorwire.Frame{Headers: []vendorwire.Header{{
		Pdata:      pdata,
		Src:        32,
		Dest:       53,
		CmdFunc:    entry.CmdFunc,
		CmdID:      entry.CmdID,
		DataLen:    int32(len(pdata)),
		NeedAck:    1,
		Seq:        int32(b.now().Unix() & 0x7fffffff),
		Version:    19,
		PayloadVer: 1,
		DeviceSN:   dev.Serial,
	}}}
	return f.Marshal()
}

// noteTopic mirrors the most recent inbound topic into a display state,
// throttled so heartbeat bursts do not thrash the store.
func (b *Bridge) noteTopic(topic string) {
	b.mu.Lock()
	now := b.now()
	if now.Sub(b.lastTopic) < lastTopicThrottle {
		b.mu.Unlock()
		return
	}
	b.lastTopic = now
	b.mu.Unlock()
	b.store.Write("bridge.lastTopic", topic, true)
}

func (b *Bridge) markSeen(serial string) {
	b.mu.Lock()
	b.lastSeen[serial] = b.now()
	b.mu.Unlock()
}

// serialFromTopic extracts the device serial from either topic shape:
// /app/{user}/{serial}/thing/property/{get|set} or
// /app/device/property/{serial}.
func serialFromTopic(topic string) string {
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	switch {
	case len(parts) >= 4 && parts[1] == "device" && parts[2] == "property":
		return parts[3]
	case len(parts) >= 3:
		return parts[2]
	}
	return ""
}

// parseEnvelope accepts payloads only when they are valid JSON objects
// carrying an operateType; everything else goes to the binary decoder.
func parseEnvelope(payload []byte) (*jsonEnvelope, bool) {
	trimmed := strings.TrimLeft(string(payload), " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var env jsonEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, false
	}
	if env.OperateType == "" {
		return nil, false
	}
	return &env, true
}
