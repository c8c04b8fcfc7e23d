package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already canonical", input: "aa:bb:cc:dd:ee:ff", want: "aa:bb:cc:dd:ee:ff"},
		{name: "uppercase", input: "AA:BB:CC:DD:EE:FF", want: "aa:bb:cc:dd:ee:ff"},
		{name: "dashes", input: "aa-bb-cc-dd-ee-ff", want: "aa:bb:cc:dd:ee:ff"},
		{name: "dotted cisco form", input: "aabb.ccdd.eeff", want: "aa:bb:cc:dd:ee:ff"},
		{name: "surrounding whitespace", input: "  aa:bb:cc:dd:ee:ff\n", want: "aa:bb:cc:dd:ee:ff"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "not-a-mac", wantErr: true},
		{name: "too short", input: "aa:bb:cc", wantErr: true},
		{name: "eui-64 rejected", input: "aa:bb:cc:dd:ee:ff:00:11", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMAC(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMACDerivedForms(t *testing.T) {
	mac := "aa:bb:cc:dd:ee:ff"
	assert.Equal(t, "aa-bb-cc-dd-ee-ff", MACWithDashes(mac))
	assert.Equal(t, "aabbccddeeff", MACCompact(mac))
}

func TestMachineSlug(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		want     string
	}{
		{name: "plain", hostname: "m1", want: "m1"},
		{name: "uppercase", hostname: "GamePC-07", want: "gamepc-07"},
		{name: "dots and underscores", hostname: "row_3.seat.12", want: "row-3-seat-12"},
		{name: "collapses runs", hostname: "a--__--b", want: "a-b"},
		{name: "trims edges", hostname: "-edge-", want: "edge"},
		{name: "empty", hostname: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MachineSlug(tt.hostname))
		})
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	terminal := []SessionStatus{SessionStatusStopped, SessionStatusRejected, SessionStatusFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "status %s should be terminal", s)
	}

	live := []SessionStatus{
		SessionStatusRequested,
		SessionStatusProvisioning,
		SessionStatusActive,
		SessionStatusStopping,
	}
	for _, s := range live {
		assert.False(t, s.Terminal(), "status %s should not be terminal", s)
	}
}

func TestTargetStatusLive(t *testing.T) {
	assert.True(t, TargetStatusCreating.Live())
	assert.True(t, TargetStatusActive.Live())
	assert.True(t, TargetStatusStopping.Live())
	assert.False(t, TargetStatusStopped.Live())
	assert.False(t, TargetStatusError.Live())
}

func TestRolePermissions(t *testing.T) {
	assert.True(t, UserRoleAdmin.CanWrite())
	assert.True(t, UserRoleOperator.CanWrite())
	assert.False(t, UserRoleViewer.CanWrite())
}

func TestImageStatusUsable(t *testing.T) {
	assert.True(t, ImageStatusReady.Usable())
	for _, s := range []ImageStatus{ImageStatusUploading, ImageStatusProcessing, ImageStatusError, ImageStatusArchived} {
		assert.False(t, s.Usable(), "status %s should not be usable", s)
	}
}
