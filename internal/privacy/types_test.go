package privacy_test

import (
	"testing"

	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsBinaryLayout(t *testing.T) {
	s := privacy.Settings{
		Mode:          privacy.FirmwareManaged,
		State:         1,
		PrivacyMask:   privacy.PrivacyMaskAll,
		MaxRampTimeMs: 0x01020304,
	}

	b, err := s.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x00, 0x00, 0x00,
		0x01, 0x00, 0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
		0x04, 0x03, 0x02, 0x01,
	}, b)

	var got privacy.Settings
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, s, got)
}

func TestSettingsUnmarshalRejectsWrongLength(t *testing.T) {
	var s privacy.Settings
	assert.Error(t, s.UnmarshalBinary(make([]byte, privacy.SettingsSize-1)))
	assert.Error(t, s.UnmarshalBinary(make([]byte, privacy.SettingsSize+4)))
}

func TestParsePolicy(t *testing.T) {
	p, err := privacy.ParsePolicy("fw_managed")
	require.NoError(t, err)
	assert.Equal(t, privacy.FirmwareManaged, p)

	p, err = privacy.ParsePolicy("hw_managed")
	require.NoError(t, err)
	assert.Equal(t, privacy.HardwareManaged, p)

	_, err = privacy.ParsePolicy("both")
	assert.Error(t, err)

	assert.Equal(t, "fw_managed", privacy.FirmwareManaged.String())
	assert.Equal(t, "policy(5)", privacy.Policy(5).String())
}

func TestStateValues(t *testing.T) {
	assert.Equal(t, privacy.State(0), privacy.Unmuted)
	assert.Equal(t, privacy.State(1), privacy.FadeIn)
	assert.Equal(t, privacy.State(2), privacy.FadeOut)
	assert.Equal(t, privacy.State(3), privacy.Muted)

	assert.True(t, privacy.Muted.Valid())
	assert.False(t, privacy.State(4).Valid())
	assert.Equal(t, "state(0x4)", privacy.State(4).String())
}

func TestNewDataStartsUnmuted(t *testing.T) {
	d := privacy.NewData()
	assert.Equal(t, privacy.Unmuted, d.State())
	assert.False(t, d.DMADataZeroing())
}
