package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// Repository implementa los repositorios de señales, reputaciones y símbolos
// sobre PostgreSQL. Los checkpoints se guardan como JSONB.
type Repository struct {
	pool *Pool
}

var (
	_ ports.SignalRepository     = (*Repository)(nil)
	_ ports.ReputationRepository = (*Repository)(nil)
	_ ports.SymbolMapper         = (*Repository)(nil)
)

// NewRepository crea el repositorio sobre un pool ya migrado.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

// Open conecta, migra y devuelve el repositorio.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

const signalColumns = `address, id, chain, symbol, channel, message_id, signal_number, mention_count,
	market_cap, entry_price, entry_at, status, checkpoints, ath_price, ath_at, ath_multiplier,
	completed_at, is_winner, category, days_to_ath, updated_at`

// SaveSignal hace upsert de la señal bajo su dirección.
func (r *Repository) SaveSignal(ctx context.Context, sig domain.Signal) error {
	cps, err := json.Marshal(sig.Checkpoints)
	if err != nil {
		return fmt.Errorf("postgres.SaveSignal: marshal checkpoints: %w", err)
	}

	var completedAt *time.Time
	if !sig.CompletedAt.IsZero() {
		completedAt = &sig.CompletedAt
	}

	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (address) DO UPDATE SET
			id             = EXCLUDED.id,
			chain          = EXCLUDED.chain,
			symbol         = EXCLUDED.symbol,
			channel        = EXCLUDED.channel,
			message_id     = EXCLUDED.message_id,
			signal_number  = EXCLUDED.signal_number,
			mention_count  = EXCLUDED.mention_count,
			market_cap     = EXCLUDED.market_cap,
			entry_price    = EXCLUDED.entry_price,
			entry_at       = EXCLUDED.entry_at,
			status         = EXCLUDED.status,
			checkpoints    = EXCLUDED.checkpoints,
			ath_price      = EXCLUDED.ath_price,
			ath_at         = EXCLUDED.ath_at,
			ath_multiplier = EXCLUDED.ath_multiplier,
			completed_at   = EXCLUDED.completed_at,
			is_winner      = EXCLUDED.is_winner,
			category       = EXCLUDED.category,
			days_to_ath    = EXCLUDED.days_to_ath,
			updated_at     = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		sig.Address, sig.ID, sig.Chain, sig.Symbol, sig.Channel, sig.MessageID,
		sig.SignalNumber, sig.MentionCount, sig.MarketCapUSD,
		sig.EntryPrice, sig.EntryAt, string(sig.Status), cps,
		sig.ATHPrice, sig.ATHAt, sig.ATHMultiplier,
		completedAt, sig.IsWinner, string(sig.Category), sig.DaysToATH, sig.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres.SaveSignal: upsert %s: %w", sig.Address, err)
	}
	return nil
}

// LoadSignals devuelve todas las señales indexadas por dirección.
func (r *Repository) LoadSignals(ctx context.Context) (map[string]domain.Signal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+signalColumns+` FROM signals`)
	if err != nil {
		return nil, fmt.Errorf("postgres.LoadSignals: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Signal)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres.LoadSignals: %w", err)
		}
		out[sig.Address] = sig
	}
	return out, rows.Err()
}

// ListOutcomes devuelve los outcomes de señales completas, más recientes primero.
func (r *Repository) ListOutcomes(ctx context.Context, channel string) ([]domain.Outcome, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE status = $1`
	args := []any{string(domain.StatusComplete)}
	if channel != "" {
		query += ` AND channel = $2`
		args = append(args, channel)
	}
	query += ` ORDER BY completed_at DESC, address ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres.ListOutcomes: query: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres.ListOutcomes: %w", err)
		}
		outcomes = append(outcomes, sig.Outcome())
	}
	return outcomes, rows.Err()
}

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var (
		sig         domain.Signal
		status      string
		category    string
		cps         []byte
		completedAt *time.Time
	)
	err := row.Scan(
		&sig.Address, &sig.ID, &sig.Chain, &sig.Symbol, &sig.Channel, &sig.MessageID,
		&sig.SignalNumber, &sig.MentionCount, &sig.MarketCapUSD,
		&sig.EntryPrice, &sig.EntryAt, &status, &cps,
		&sig.ATHPrice, &sig.ATHAt, &sig.ATHMultiplier,
		&completedAt, &sig.IsWinner, &category, &sig.DaysToATH, &sig.UpdatedAt,
	)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("scan signal: %w", err)
	}
	if err := json.Unmarshal(cps, &sig.Checkpoints); err != nil {
		return domain.Signal{}, fmt.Errorf("decode checkpoints %s: %w", sig.Address, err)
	}

	sig.Status = domain.SignalStatus(status)
	sig.Category = domain.OutcomeCategory(category)
	sig.EntryAt = sig.EntryAt.UTC()
	sig.ATHAt = sig.ATHAt.UTC()
	sig.UpdatedAt = sig.UpdatedAt.UTC()
	if completedAt != nil {
		sig.CompletedAt = completedAt.UTC()
	}
	return sig, nil
}

// SaveReputation hace upsert del estado de un canal.
func (r *Repository) SaveReputation(ctx context.Context, rep domain.ChannelReputation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reputations (channel, total_signals, wins, roi_mean, roi_m2,
			avg_days_to_ath, speed_score, score, tier, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel) DO UPDATE SET
			total_signals   = EXCLUDED.total_signals,
			wins            = EXCLUDED.wins,
			roi_mean        = EXCLUDED.roi_mean,
			roi_m2          = EXCLUDED.roi_m2,
			avg_days_to_ath = EXCLUDED.avg_days_to_ath,
			speed_score     = EXCLUDED.speed_score,
			score           = EXCLUDED.score,
			tier            = EXCLUDED.tier,
			updated_at      = EXCLUDED.updated_at
	`, rep.Channel, rep.TotalSignals, rep.Wins, rep.ROIMean, rep.ROIM2,
		rep.AvgDaysToATH, rep.SpeedScore, rep.Score, string(rep.Tier), rep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres.SaveReputation: %s: %w", rep.Channel, err)
	}
	return nil
}

// LoadReputations devuelve el estado de todos los canales.
func (r *Repository) LoadReputations(ctx context.Context) (map[string]domain.ChannelReputation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT channel, total_signals, wins, roi_mean, roi_m2,
			avg_days_to_ath, speed_score, score, tier, updated_at
		FROM reputations
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres.LoadReputations: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.ChannelReputation)
	for rows.Next() {
		var (
			rep  domain.ChannelReputation
			tier string
		)
		if err := rows.Scan(&rep.Channel, &rep.TotalSignals, &rep.Wins, &rep.ROIMean, &rep.ROIM2,
			&rep.AvgDaysToATH, &rep.SpeedScore, &rep.Score, &tier, &rep.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres.LoadReputations: scan: %w", err)
		}
		rep.Tier = domain.ReputationTier(tier)
		rep.UpdatedAt = rep.UpdatedAt.UTC()
		out[rep.Channel] = rep
	}
	return out, rows.Err()
}

// ProviderSymbol devuelve el símbolo guardado para (address, provider).
func (r *Repository) ProviderSymbol(ctx context.Context, address, provider string) (string, bool, error) {
	var sym string
	err := r.pool.QueryRow(ctx,
		`SELECT symbol FROM symbol_mappings WHERE address = $1 AND provider = $2`, address, provider,
	).Scan(&sym)
	if err != nil {
		if isNotFoundError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres.ProviderSymbol: %w", err)
	}
	return sym, true, nil
}

// SaveProviderSymbol persiste el mapeo.
func (r *Repository) SaveProviderSymbol(ctx context.Context, address, provider, symbol string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO symbol_mappings (address, provider, symbol) VALUES ($1, $2, $3)
		ON CONFLICT (address, provider) DO UPDATE SET symbol = EXCLUDED.symbol
	`, address, provider, symbol)
	if err != nil {
		return fmt.Errorf("postgres.SaveProviderSymbol: %w", err)
	}
	return nil
}

// Close cierra el pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}
