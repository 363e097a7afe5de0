package domain

import (
	"time"

	"github.com/google/uuid"
)

// CheckpointName es el nombre de un offset fijo tras la entrada.
type CheckpointName string

const (
	Checkpoint1h  CheckpointName = "1h"
	Checkpoint4h  CheckpointName = "4h"
	Checkpoint24h CheckpointName = "24h"
	Checkpoint3d  CheckpointName = "3d"
	Checkpoint7d  CheckpointName = "7d"
	Checkpoint30d CheckpointName = "30d"
)

// CheckpointSpec es un checkpoint del calendario fijo.
type CheckpointSpec struct {
	Name   CheckpointName
	Offset time.Duration
}

// Schedule es el calendario de checkpoints, en orden creciente de offset.
var Schedule = []CheckpointSpec{
	{Checkpoint1h, time.Hour},
	{Checkpoint4h, 4 * time.Hour},
	{Checkpoint24h, 24 * time.Hour},
	{Checkpoint3d, 3 * 24 * time.Hour},
	{Checkpoint7d, 7 * 24 * time.Hour},
	{Checkpoint30d, 30 * 24 * time.Hour},
}

// TrackingHorizon es el offset del checkpoint más largo.
const TrackingHorizon = 30 * 24 * time.Hour

// CheckpointRecord es el resultado de muestrear el precio en un checkpoint.
type CheckpointRecord struct {
	Name    CheckpointName `json:"name"`
	Offset  time.Duration  `json:"offset"`
	Reached bool           `json:"reached"`
	Price   float64        `json:"price,omitempty"`
	At      time.Time      `json:"at,omitempty"`
	ROI     float64        `json:"roi,omitempty"` // multiplicador price/entry
}

// SignalStatus es el estado de la máquina de estados. No existe FAILED.
type SignalStatus string

const (
	StatusTracking SignalStatus = "TRACKING"
	StatusComplete SignalStatus = "COMPLETE"
)

// Signal es una mención trackeada con su historia de precio.
// La única entidad que la muta es el tracker.
type Signal struct {
	ID           string
	Address      string
	Chain        string
	Symbol       string // solo display
	Channel      string
	MessageID    string
	SignalNumber int // n-ésima mención del mismo token por el mismo canal
	MentionCount int // menciones recibidas mientras estaba en TRACKING
	MarketCapUSD float64

	EntryPrice float64
	EntryAt    time.Time

	Status      SignalStatus
	Checkpoints []CheckpointRecord // mismo orden que Schedule

	ATHPrice      float64
	ATHAt         time.Time
	ATHMultiplier float64

	// Campos terminales, solo con Status == COMPLETE.
	CompletedAt time.Time
	IsWinner    bool
	Category    OutcomeCategory
	DaysToATH   float64

	UpdatedAt time.Time
}

// NewSignal crea una señal en TRACKING a partir de una mención ya validada.
// El ATH arranca en el precio de entrada (multiplicador 1.0).
func NewSignal(m Mention, number int, now time.Time) Signal {
	cps := make([]CheckpointRecord, len(Schedule))
	for i, spec := range Schedule {
		cps[i] = CheckpointRecord{Name: spec.Name, Offset: spec.Offset}
	}
	return Signal{
		ID:            uuid.NewString(),
		Address:       m.Address,
		Chain:         m.Chain,
		Symbol:        m.Symbol,
		Channel:       m.Channel,
		MessageID:     m.MessageID,
		SignalNumber:  number,
		MentionCount:  1,
		MarketCapUSD:  m.MarketCapUSD,
		EntryPrice:    m.EntryPrice,
		EntryAt:       m.EntryAt.UTC(),
		Status:        StatusTracking,
		Checkpoints:   cps,
		ATHPrice:      m.EntryPrice,
		ATHAt:         m.EntryAt.UTC(),
		ATHMultiplier: 1.0,
		UpdatedAt:     now.UTC(),
	}
}

// Ref devuelve la identidad del token para consultar precios.
func (s Signal) Ref() TokenRef {
	return TokenRef{Address: s.Address, Chain: s.Chain, Symbol: s.Symbol}
}

// IsComplete devuelve true en estado terminal.
func (s Signal) IsComplete() bool {
	return s.Status == StatusComplete
}

// DueAt devuelve el instante en que vence el checkpoint i.
func (s Signal) DueAt(i int) time.Time {
	return s.EntryAt.Add(s.Checkpoints[i].Offset)
}

// DueCheckpoints devuelve los índices de checkpoints vencidos y sin alcanzar,
// en orden creciente de tiempo.
func (s Signal) DueCheckpoints(now time.Time) []int {
	if s.IsComplete() {
		return nil
	}
	var due []int
	for i, cp := range s.Checkpoints {
		if cp.Reached {
			continue
		}
		if !now.Before(s.DueAt(i)) {
			due = append(due, i)
		}
	}
	return due
}

// HorizonElapsed devuelve true cuando ya pasó el checkpoint más largo.
func (s Signal) HorizonElapsed(now time.Time) bool {
	return !now.Before(s.EntryAt.Add(TrackingHorizon))
}

// Checkpoint busca un checkpoint por nombre.
func (s Signal) Checkpoint(name CheckpointName) (CheckpointRecord, bool) {
	for _, cp := range s.Checkpoints {
		if cp.Name == name {
			return cp, true
		}
	}
	return CheckpointRecord{}, false
}

// RecordCheckpoint marca el checkpoint i como alcanzado con el precio dado.
// Es idempotente: si ya estaba alcanzado no cambia nada y devuelve false.
// Devuelve athRaised=true si el precio supera el ATH actual.
func (s *Signal) RecordCheckpoint(i int, price float64, at time.Time) (recorded, athRaised bool) {
	if i < 0 || i >= len(s.Checkpoints) || s.Checkpoints[i].Reached {
		return false, false
	}
	roi, ok := Multiplier(s.EntryPrice, price)
	if !ok {
		return false, false
	}
	s.Checkpoints[i].Reached = true
	s.Checkpoints[i].Price = price
	s.Checkpoints[i].At = at.UTC()
	s.Checkpoints[i].ROI = roi
	return true, s.RaiseATH(price, at)
}

// OverwriteCheckpoint reescribe un checkpoint (solo corrección de datos en back-fill).
func (s *Signal) OverwriteCheckpoint(i int, price float64, at time.Time) bool {
	if i < 0 || i >= len(s.Checkpoints) {
		return false
	}
	roi, ok := Multiplier(s.EntryPrice, price)
	if !ok {
		return false
	}
	cp := &s.Checkpoints[i]
	if cp.Reached && cp.Price == price && cp.At.Equal(at.UTC()) {
		return false
	}
	cp.Reached = true
	cp.Price = price
	cp.At = at.UTC()
	cp.ROI = roi
	return true
}

// RaiseATH sube el ATH si el precio lo supera. Nunca lo baja.
func (s *Signal) RaiseATH(price float64, at time.Time) bool {
	mult, ok := Multiplier(s.EntryPrice, price)
	if !ok || mult <= s.ATHMultiplier {
		return false
	}
	s.ATHPrice = price
	s.ATHAt = at.UTC()
	s.ATHMultiplier = mult
	return true
}

// ResetATH fija el ATH aunque sea menor. Solo para corrección explícita de datos.
// El multiplicador nunca baja de 1.0: el precio de entrada es el suelo.
func (s *Signal) ResetATH(price float64, at time.Time) bool {
	mult, ok := Multiplier(s.EntryPrice, price)
	if !ok {
		return false
	}
	if mult < 1.0 {
		price, at, mult = s.EntryPrice, s.EntryAt, 1.0
	}
	if mult == s.ATHMultiplier && s.ATHAt.Equal(at.UTC()) {
		return false
	}
	s.ATHPrice = price
	s.ATHAt = at.UTC()
	s.ATHMultiplier = mult
	return true
}

// Complete pasa la señal a COMPLETE y congela los campos terminales.
func (s *Signal) Complete(now time.Time) {
	if s.IsComplete() {
		return
	}
	s.Status = StatusComplete
	s.CompletedAt = now.UTC()
	s.finalize()
}

// Refinalize recalcula los campos terminales tras un back-fill de una señal completa.
func (s *Signal) Refinalize() {
	if s.IsComplete() {
		s.finalize()
	}
}

func (s *Signal) finalize() {
	s.IsWinner, s.Category = Categorize(s.ATHMultiplier)
	s.DaysToATH = DaysBetween(s.EntryAt, s.ATHAt)
}

// Clone devuelve una copia profunda (el slice de checkpoints no se comparte).
func (s Signal) Clone() Signal {
	out := s
	out.Checkpoints = append([]CheckpointRecord(nil), s.Checkpoints...)
	return out
}

// Outcome devuelve el registro de cierre que consumen la reputación y los writers.
func (s Signal) Outcome() Outcome {
	o := Outcome{
		SignalID:      s.ID,
		Address:       s.Address,
		Chain:         s.Chain,
		Symbol:        s.Symbol,
		Channel:       s.Channel,
		MessageID:     s.MessageID,
		SignalNumber:  s.SignalNumber,
		EntryPrice:    s.EntryPrice,
		EntryAt:       s.EntryAt,
		CompletedAt:   s.CompletedAt,
		ATHPrice:      s.ATHPrice,
		ATHAt:         s.ATHAt,
		ATHMultiplier: s.ATHMultiplier,
		DaysToATH:     s.DaysToATH,
		IsWinner:      s.IsWinner,
		Category:      s.Category,
		PeakTiming:    ClassifyPeakTiming(s.DaysToATH),
		MarketTier:    ClassifyMarketTier(s.MarketCapUSD),
		Checkpoints:   append([]CheckpointRecord(nil), s.Checkpoints...),
	}
	d7, ok7 := s.Checkpoint(Checkpoint7d)
	d30, ok30 := s.Checkpoint(Checkpoint30d)
	if ok7 && ok30 && d7.Reached && d30.Reached {
		o.Trajectory = ClassifyTrajectory(d7.ROI, d30.ROI)
	}
	return o
}

// Outcome es el registro de cierre de una señal: campos terminales más canal y tier.
type Outcome struct {
	SignalID      string
	Address       string
	Chain         string
	Symbol        string
	Channel       string
	MessageID     string
	SignalNumber  int
	EntryPrice    float64
	EntryAt       time.Time
	CompletedAt   time.Time
	ATHPrice      float64
	ATHAt         time.Time
	ATHMultiplier float64
	DaysToATH     float64
	IsWinner      bool
	Category      OutcomeCategory
	PeakTiming    PeakTiming
	Trajectory    Trajectory // vacío si 7d o 30d no se alcanzaron
	MarketTier    MarketTier
	Checkpoints   []CheckpointRecord
}
