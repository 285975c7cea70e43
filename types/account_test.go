package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHandle = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from AccountStatus
		to   AccountStatus
		want bool
	}{
		{"active to closed", StatusActive, StatusClosed, true},
		{"active to empty", StatusActive, StatusEmpty, true},
		{"closed to reclaimed", StatusClosed, StatusReclaimed, true},
		{"closed to protected", StatusClosed, StatusProtected, true},
		{"closed to active is revival", StatusClosed, StatusActive, true},
		{"reclaimed is terminal", StatusReclaimed, StatusActive, false},
		{"reclaimed stays reclaimed", StatusReclaimed, StatusReclaimed, true},
		{"protected is terminal", StatusProtected, StatusClosed, false},
		{"active cannot jump to reclaimed", StatusActive, StatusReclaimed, false},
		{"error recovers to active", StatusError, StatusActive, true},
		{"empty to closed", StatusEmpty, StatusClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTrackedAccountValidate(t *testing.T) {
	now := time.Now()

	valid := TrackedAccount{
		Handle:    testHandle,
		Kind:      KindToken,
		Status:    StatusActive,
		CreatedAt: now,
	}
	require.NoError(t, valid.Validate())

	missingClosedAt := valid
	missingClosedAt.Status = StatusClosed
	require.Error(t, missingClosedAt.Validate())

	reclaimedBeforeClosed := valid
	reclaimedBeforeClosed.Status = StatusReclaimed
	reclaimedBeforeClosed.ClosedAt = now
	reclaimedBeforeClosed.ReclaimedAt = now.Add(-time.Hour)
	err := reclaimedBeforeClosed.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reclaimed_at before closed_at")

	overReclaimed := valid
	overReclaimed.Status = StatusReclaimed
	overReclaimed.ClosedAt = now.Add(-time.Hour)
	overReclaimed.ReclaimedAt = now
	overReclaimed.RentExemptMin = 2039280
	overReclaimed.ReclaimedLamports = 2039281
	require.Error(t, overReclaimed.Validate())

	badHandle := valid
	badHandle.Handle = "not-a-key"
	require.Error(t, badHandle.Validate())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindSystem, Classify(SystemProgram, 0))
	assert.Equal(t, KindToken, Classify(TokenProgram, 165))
	assert.Equal(t, KindToken2022, Classify(Token2022Program, 182))
	assert.Equal(t, KindProgramDerived, Classify("SomeUnknownProgram1111111111111111111111111", 128))
	assert.Equal(t, KindUnknown, Classify("SomeUnknownProgram1111111111111111111111111", 0))
}

func TestValidateHandle(t *testing.T) {
	require.NoError(t, ValidateHandle(testHandle))

	err := ValidateHandle("short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length")

	// 0, O, I and l are not base58
	bad := strings.Repeat("O", 40)
	require.Error(t, ValidateHandle(bad))
}
