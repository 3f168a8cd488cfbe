package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastStatusTransitions(t *testing.T) {
	assert.True(t, BroadcastStatusDraft.CanTransitionTo(BroadcastStatusScheduled))
	assert.True(t, BroadcastStatusDraft.CanTransitionTo(BroadcastStatusPending))
	assert.True(t, BroadcastStatusScheduled.CanTransitionTo(BroadcastStatusProcessing))
	assert.True(t, BroadcastStatusProcessing.CanTransitionTo(BroadcastStatusCompleted))
	assert.True(t, BroadcastStatusProcessing.CanTransitionTo(BroadcastStatusFailed))

	// Regressions are never allowed.
	assert.False(t, BroadcastStatusProcessing.CanTransitionTo(BroadcastStatusPending))
	assert.False(t, BroadcastStatusCompleted.CanTransitionTo(BroadcastStatusProcessing))
	assert.False(t, BroadcastStatusFailed.CanTransitionTo(BroadcastStatusCompleted))
	assert.False(t, BroadcastStatusCompleted.CanTransitionTo(BroadcastStatusFailed))
	assert.False(t, BroadcastStatusDraft.CanTransitionTo(BroadcastStatusDraft))

	assert.False(t, BroadcastStatus("bogus").CanTransitionTo(BroadcastStatusCompleted))
	assert.False(t, BroadcastStatusDraft.CanTransitionTo(BroadcastStatus("bogus")))
}

func TestMessageStatusTerminal(t *testing.T) {
	assert.False(t, MessageStatusPending.Terminal())
	assert.False(t, MessageStatusProcessing.Terminal())
	assert.True(t, MessageStatusSent.Terminal())
	assert.True(t, MessageStatusFailed.Terminal())
}

func TestDeliveryStatusKindValid(t *testing.T) {
	assert.True(t, DeliveryStatusSent.Valid())
	assert.True(t, DeliveryStatusDelivered.Valid())
	assert.True(t, DeliveryStatusRead.Valid())
	assert.True(t, DeliveryStatusFailed.Valid())
	assert.False(t, DeliveryStatusKind("teleported").Valid())
}
