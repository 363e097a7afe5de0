package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// Políticas de learning rate.
const (
	AlphaDecaying = "decaying" // α = 1/(1+n): el score es la media de los rewards
	AlphaFixed    = "fixed"    // α constante: media móvil exponencial
)

const (
	DefaultAlpha            = 0.1
	DefaultInitialScore     = 50.0
	DefaultRewardCeiling    = 10.0
	DefaultMaterialChange   = 1.0
	DefaultMinSharpeSamples = 3
)

// ErrMissingChannel se devuelve para outcomes sin canal.
var ErrMissingChannel = errors.New("outcome without channel")

// Config parametriza el aprendizaje.
type Config struct {
	AlphaPolicy      string   // decaying | fixed
	Alpha            float64  // solo con AlphaFixed
	InitialScore     *float64 // nil = DefaultInitialScore; 0 es válido
	RewardCeiling    float64  // multiplicador que satura el reward en 100
	MaterialChange   float64  // variación de score que dispara ReputationChanged (estricta)
	MinSharpeSamples int
	Now              func() time.Time
}

func (c *Config) setDefaults() {
	if c.AlphaPolicy == "" {
		c.AlphaPolicy = AlphaDecaying
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	score := DefaultInitialScore
	if c.InitialScore != nil && *c.InitialScore >= 0 && *c.InitialScore <= 100 {
		score = *c.InitialScore
	}
	c.InitialScore = &score
	if c.RewardCeiling <= 1 {
		c.RewardCeiling = DefaultRewardCeiling
	}
	if c.MaterialChange <= 0 {
		c.MaterialChange = DefaultMaterialChange
	}
	if c.MinSharpeSamples <= 0 {
		c.MinSharpeSamples = DefaultMinSharpeSamples
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// channelState serializa las actualizaciones de un canal.
type channelState struct {
	mu  sync.Mutex
	rep domain.ChannelReputation
}

// Engine es el único que muta reputaciones. Un canal se actualiza con un
// escritor a la vez; canales distintos avanzan en paralelo.
type Engine struct {
	cfg    Config
	repo   ports.ReputationRepository
	events ports.EventPublisher

	mu       sync.RWMutex
	channels map[string]*channelState
}

// New crea el motor. events puede ser nil.
func New(cfg Config, repo ports.ReputationRepository, events ports.EventPublisher) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:      cfg,
		repo:     repo,
		events:   events,
		channels: make(map[string]*channelState),
	}
}

// Load carga el estado persistido. Un fallo de lectura deja el estado vacío.
func (e *Engine) Load(ctx context.Context) {
	loaded, err := e.repo.LoadReputations(ctx)
	if err != nil {
		slog.Error("reputation: load failed, starting with empty state", "err", err)
		loaded = nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = make(map[string]*channelState, len(loaded))
	for ch, rep := range loaded {
		e.channels[ch] = &channelState{rep: rep}
	}
	slog.Info("reputation: state loaded", "channels", len(loaded), "alpha_policy", e.cfg.AlphaPolicy)
}

// OnSignalCompleted aplica el outcome de una señal al canal que la emitió:
// V' = V + α(R − V) más los agregados incrementales.
//
// Si el guardado falla el estado en memoria ya avanzó: el error se devuelve y
// el próximo guardado del canal lo incluye.
func (e *Engine) OnSignalCompleted(ctx context.Context, o domain.Outcome) (domain.ChannelReputation, error) {
	if o.Channel == "" {
		return domain.ChannelReputation{}, fmt.Errorf("reputation.OnSignalCompleted: %s: %w", o.Address, ErrMissingChannel)
	}
	st := e.state(o.Channel)
	now := e.cfg.Now().UTC()

	st.mu.Lock()
	old := st.rep
	alpha := e.alpha(old)
	reward := domain.Reward(o.ATHMultiplier, e.cfg.RewardCeiling)
	next := old.Apply(o, alpha, reward, now)
	st.rep = next
	saveErr := e.repo.SaveReputation(ctx, next)
	st.mu.Unlock()

	slog.Info("reputation: channel updated",
		"channel", o.Channel,
		"address", o.Address,
		"ath_multiplier", o.ATHMultiplier,
		"reward", reward,
		"alpha", alpha,
		"old_score", old.Score,
		"new_score", next.Score,
		"tier", next.Tier,
		"signals", next.TotalSignals,
	)

	if e.material(old, next) && e.events != nil {
		e.events.Publish(ctx, domain.ReputationChanged{
			Channel:    next.Channel,
			OldScore:   old.Score,
			NewScore:   next.Score,
			OldTier:    old.Tier,
			NewTier:    next.Tier,
			Reputation: next,
			At:         now,
		})
	}

	if saveErr != nil {
		return next, fmt.Errorf("reputation.OnSignalCompleted: save %s: %w", o.Channel, saveErr)
	}
	return next, nil
}

// Get devuelve la reputación de un canal.
func (e *Engine) Get(channel string) (domain.ChannelReputation, bool) {
	e.mu.RLock()
	st, ok := e.channels[channel]
	e.mu.RUnlock()
	if !ok {
		return domain.ChannelReputation{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rep, true
}

// Ranking devuelve todos los canales ordenados por score (desc), luego por nombre.
func (e *Engine) Ranking() []domain.ChannelReputation {
	e.mu.RLock()
	states := make([]*channelState, 0, len(e.channels))
	for _, st := range e.channels {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]domain.ChannelReputation, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.rep)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// Sharpe devuelve el ratio tipo Sharpe con el mínimo de muestras configurado.
func (e *Engine) Sharpe(r domain.ChannelReputation) (float64, bool) {
	return r.Sharpe(e.cfg.MinSharpeSamples)
}

func (e *Engine) state(channel string) *channelState {
	e.mu.RLock()
	st, ok := e.channels[channel]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.channels[channel]; ok {
		return st
	}
	st = &channelState{rep: domain.NewChannelReputation(channel, *e.cfg.InitialScore)}
	e.channels[channel] = st
	return st
}

func (e *Engine) alpha(r domain.ChannelReputation) float64 {
	if e.cfg.AlphaPolicy == AlphaFixed {
		return e.cfg.Alpha
	}
	return 1 / float64(1+r.TotalSignals)
}

// material: cambio de tier, o variación de score que supera MaterialChange.
func (e *Engine) material(old, next domain.ChannelReputation) bool {
	return old.Tier != next.Tier || math.Abs(next.Score-old.Score) > e.cfg.MaterialChange
}
