package domain

import "time"

// EventKind identifica el tipo de notificación.
type EventKind string

const (
	EventSignalStarted     EventKind = "signal_started"
	EventCheckpointReached EventKind = "checkpoint_reached"
	EventCheckpointUpdated EventKind = "checkpoint_updated"
	EventSignalCompleted   EventKind = "signal_completed"
	EventReputationChanged EventKind = "reputation_changed"
)

// Event es una notificación inmutable emitida en una transición.
// Los suscriptores reciben valores, nunca punteros al estado interno.
type Event interface {
	Kind() EventKind
	OccurredAt() time.Time
}

// SignalStarted se emite al crear (o reiniciar) una señal.
type SignalStarted struct {
	Signal Signal
	At     time.Time
}

// CheckpointReached se emite cuando el tracker alcanza un checkpoint en vivo.
type CheckpointReached struct {
	Address       string
	Channel       string
	Symbol        string
	Checkpoint    CheckpointRecord
	ATHMultiplier float64
	ATHRaised     bool
	Provider      string
	At            time.Time
}

// CheckpointUpdated se emite cuando el back-fill cambia checkpoints o ATH.
type CheckpointUpdated struct {
	Address          string
	Channel          string
	Filled           []CheckpointName
	OldATHMultiplier float64
	NewATHMultiplier float64
	OldCategory      OutcomeCategory
	NewCategory      OutcomeCategory
	Corrected        bool
	Provider         string
	At               time.Time
}

// SignalCompleted lleva el outcome final.
type SignalCompleted struct {
	Outcome Outcome
	At      time.Time
}

// ReputationChanged se emite cuando el score cambia más que el umbral material.
type ReputationChanged struct {
	Channel    string
	OldScore   float64
	NewScore   float64
	OldTier    ReputationTier
	NewTier    ReputationTier
	Reputation ChannelReputation
	At         time.Time
}

func (e SignalStarted) Kind() EventKind { return EventSignalStarted }
func (e SignalStarted) OccurredAt() time.Time { return e.At }
func (e CheckpointReached) Kind() EventKind { return EventCheckpointReached }
func (e CheckpointReached) OccurredAt() time.Time { return e.At }
func (e CheckpointUpdated) Kind() EventKind { return EventCheckpointUpdated }
func (e CheckpointUpdated) OccurredAt() time.Time { return e.At }
func (e SignalCompleted) Kind() EventKind { return EventSignalCompleted }
func (e SignalCompleted) OccurredAt() time.Time { return e.At }
func (e ReputationChanged) Kind() EventKind { return EventReputationChanged }
func (e ReputationChanged) OccurredAt() time.Time { return e.At }
