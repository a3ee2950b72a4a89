package vendorwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByCommand(t *testing.T) {
	require := require.New(t)

	e, ok := FindByCommand(1, 20, DeviceTypePS)
	require.True(ok)
	assert.Equal(t, TemplateInverterHeartbeat, e.Template)
	assert.False(t, e.Writeable)

	e, ok = FindByCommand(129, 20, DeviceTypePS)
	require.True(ok)
	assert.Equal(t, "permanentWatts", e.ValueName)
	assert.True(t, e.Writeable)

	// same command id on the plug family resolves to a different entry
	e, ok = FindByCommand(129, 2, DeviceTypeSM)
	require.True(ok)
	assert.Equal(t, "plugSwitch", e.ValueName)

	// unknown triple must report not-found
	_, ok = FindByCommand(99, 20, DeviceTypePS)
	assert.False(t, ok)
	_, ok = FindByCommand(1, 20, DeviceTypeSM)
	assert.False(t, ok)
}

func TestFindByCommandIgnoredEntries(t *testing.T) {
	e, ok := FindByCommand(32, 254, DeviceTypePS)
	require.True(t, ok)
	assert.True(t, e.Ignore)

	e, ok = FindByCommand(136, 20, DeviceTypePS)
	require.True(t, ok)
	assert.True(t, e.Ignore)
}

func TestFindByValueName(t *testing.T) {
	e, ok := FindByValueName("supplyPriority", DeviceTypePS)
	require.True(t, ok)
	assert.Equal(t, int32(130), e.CmdID)
	assert.Equal(t, int32(20), e.CmdFunc)

	// heartbeat field names are not writeable commands
	_, ok = FindByValueName("invOutputWatts", DeviceTypePS)
	assert.False(t, ok)
}

func TestFindJSON(t *testing.T) {
	e, ok := FindJSON("acOutCfg", 5, DeviceTypeD2M)
	require.True(t, ok)
	assert.Equal(t, "acEnabled", e.ValueName)
	assert.True(t, e.Writeable)

	e, ok = FindJSON("latestQuotas", 0, DeviceTypeDM)
	require.True(t, ok)
	assert.True(t, e.Ignore)

	_, ok = FindJSON("acOutCfg", 5, DeviceTypeSM)
	assert.False(t, ok)
}

func TestWriteableEntries(t *testing.T) {
	names := func(entries []CatalogEntry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.ValueName)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"invOnOff", "permanentWatts", "supplyPriority", "lowerLimit"},
		names(WriteableEntries(DeviceTypePS)))
	assert.ElementsMatch(t, []string{"plugSwitch", "brightness"},
		names(WriteableEntries(DeviceTypeSM)))
}

func TestWriteableJSONEntries(t *testing.T) {
	entries := WriteableJSONEntries(DeviceTypeD2M)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.Writeable)
	}
}

func TestSentinelAllOnes(t *testing.T) {
	assert.True(t, SentinelAllOnes(0xFFFF))
	assert.True(t, SentinelAllOnes(0xFFFFFFFF))
	assert.False(t, SentinelAllOnes(0))
	assert.False(t, SentinelAllOnes(100))
}

func TestIsBinaryFamily(t *testing.T) {
	assert.True(t, IsBinaryFamily(DeviceTypePS))
	assert.True(t, IsBinaryFamily(DeviceTypeSM))
	assert.False(t, IsBinaryFamily(DeviceTypeDM))
	assert.False(t, IsBinaryFamily(DeviceTypeD2))
	assert.False(t, IsBinaryFamily(DeviceTypeD2M))
}
