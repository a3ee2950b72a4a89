package vendorwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInverterHeartbeat(t *testing.T) {
	require := require.New(t)

	raw := EncodeInverterHeartbeat(&InverterHeartbeat{
		PV1InputWatts:  1500,
		PV2InputWatts:  800,
		BatInputWatts:  -2000,
		BatSoc:         87,
		PermanentWatts: 3000,
		InvOutputWatts: 2950,
		InvOnOff:       1,
		Timestamp:      1764500000,
	})

	fields, err := DecodePdata(TemplateInverterHeartbeat, raw)
	require.NoError(err)
	assert.Equal(t, int32(1500), fields["pv1InputWatts"])
	assert.Equal(t, int32(800), fields["pv2InputWatts"])
	assert.Equal(t, int32(-2000), fields["batInputWatts"])
	assert.Equal(t, int32(87), fields["batSoc"])
	assert.Equal(t, int32(3000), fields["permanentWatts"])
	assert.Equal(t, int32(2950), fields["invOutputWatts"])
	assert.Equal(t, int32(1), fields["invOnOff"])
	assert.Equal(t, int64(1764500000), fields["timestamp"])
}

func TestDecodePlugHeartbeat(t *testing.T) {
	require := require.New(t)

	raw := EncodePlugHeartbeat(&PlugHeartbeat{SwitchStatus: 1, Watts: 425, Temp: 31})

	fields, err := DecodePdata(TemplatePlugHeartbeat, raw)
	require.NoError(err)
	assert.Equal(t, int32(1), fields["switchStatus"])
	assert.Equal(t, int32(425), fields["watts"])
	assert.Equal(t, int32(31), fields["temp"])
}

func TestDecodeSetValueTemplates(t *testing.T) {
	raw := EncodeSetValue(2500)

	for _, tmpl := range []Template{TemplateSetValue, TemplateSetAC, TemplateSupplyPriority} {
		fields, err := DecodePdata(tmpl, raw)
		assert.NoError(t, err)
		assert.Equal(t, int32(2500), fields["value"])
	}
}

func TestDecodePdataUnknownTemplate(t *testing.T) {
	_, err := DecodePdata(Template("bogus"), nil)
	assert.Error(t, err)
}

func TestDecodePdataSkipsUnknownFields(t *testing.T) {
	// heartbeat payload with an extra bytes field the schema does not know
	raw := EncodeInverterHeartbeat(&InverterHeartbeat{BatSoc: 50})
	raw = append(raw, 0xa2, 0x06, 0x02, 0x01, 0x02) // field 100, bytes

	fields, err := DecodePdata(TemplateInverterHeartbeat, raw)
	require.NoError(t, err)
	assert.Equal(t, int32(50), fields["batSoc"])
}
