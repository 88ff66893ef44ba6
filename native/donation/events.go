package donation

import (
	"strconv"

	"tithe/core/events"
	"tithe/core/types"
)

const (
	// EventTypeDonationRecorded is emitted when a donation enters the ledger.
	EventTypeDonationRecorded = "donation.recorded"
	// EventTypeWithdrawalQueued is emitted when recipient shares join a batch.
	EventTypeWithdrawalQueued = "donation.withdrawal.queued"
	// EventTypeBatchCooldownStarted is emitted when the active batch freezes.
	EventTypeBatchCooldownStarted = "donation.batch.cooldown"
	// EventTypeBatchSettled is emitted when cooled funds return to custody.
	EventTypeBatchSettled = "donation.batch.settled"
	// EventTypeClaimPaid is emitted when a proof-gated claim pays out.
	EventTypeClaimPaid = "donation.claim.paid"
	// EventTypeCommitmentRootUpdated is emitted when a new claim root is published.
	EventTypeCommitmentRootUpdated = "donation.root.updated"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatTime(ts int64) string { return strconv.FormatInt(ts, 10) }

// DonationRecordedEvent returns the structured payload for a recorded donation.
func DonationRecordedEvent(donor, recipient, gross, net, donorShares string, ts int64) events.Event {
	return WrapEvent(&types.Event{
		Type: EventTypeDonationRecorded,
		Attributes: map[string]string{
			"donor":       donor,
			"recipient":   recipient,
			"gross":       gross,
			"net":         net,
			"donorShares": donorShares,
			"time":        formatTime(ts),
		},
	})
}

// WithdrawalQueuedEvent returns the structured payload for a queued withdrawal.
func WithdrawalQueuedEvent(recipient, shares string, epoch uint64, ts int64) events.Event {
	return WrapEvent(&types.Event{
		Type: EventTypeWithdrawalQueued,
		Attributes: map[string]string{
			"recipient": recipient,
			"shares":    shares,
			"epoch":     formatUint(epoch),
			"time":      formatTime(ts),
		},
	})
}

// BatchCooldownStartedEvent captures the freeze of the active batch.
func BatchCooldownStartedEvent(epoch uint64, queued string, ts int64) events.Event {
	return WrapEvent(&types.Event{
		Type: EventTypeBatchCooldownStarted,
		Attributes: map[string]string{
			"epoch":  formatUint(epoch),
			"queued": queued,
			"time":   formatTime(ts),
		},
	})
}

// BatchSettledEvent captures the release of cooled funds and the epoch roll.
func BatchSettledEvent(settledEpoch uint64, released string, nextEpoch uint64, ts int64) events.Event {
	return WrapEvent(&types.Event{
		Type: EventTypeBatchSettled,
		Attributes: map[string]string{
			"epoch":     formatUint(settledEpoch),
			"released":  released,
			"nextEpoch": formatUint(nextEpoch),
			"time":      formatTime(ts),
		},
	})
}

// ClaimPaidEvent captures a successful proof-gated payout.
func ClaimPaidEvent(participant, amount string, epoch uint64, ts int64) events.Event {
	return WrapEvent(&types.Event{
		Type: EventTypeClaimPaid,
		Attributes: map[string]string{
			"participant": participant,
			"amount":      amount,
			"epoch":       formatUint(epoch),
			"time":        formatTime(ts),
		},
	})
}

// CommitmentRootUpdatedEvent captures the publication of a new claim root.
func CommitmentRootUpdatedEvent(root string, epoch uint64, ts int64) events.Event {
	return WrapEvent(&types.Event{
		Type: EventTypeCommitmentRootUpdated,
		Attributes: map[string]string{
			"root":  root,
			"epoch": formatUint(epoch),
			"time":  formatTime(ts),
		},
	})
}
