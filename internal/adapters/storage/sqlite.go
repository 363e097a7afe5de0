package storage

// sqlite.go — almacenamiento por defecto, un solo archivo.
//
// Estrategia:
//   - `signals`: UNA fila por dirección de token (UPSERT, last-write-wins).
//     Los checkpoints van como JSON: siempre se leen y escriben juntos.
//   - `reputations`: una fila por canal.
//   - `price_windows`: backend de la caché de precios, clave (symbol, bucket, days).
//   - `symbol_mappings`: dirección → {proveedor: símbolo}.
//   - Cache en memoria de un hash por dirección: evita reescribir una señal
//     que no cambió desde el último guardado.
//   - Prune al arrancar: ventanas de precio guardadas hace más de 120 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
    address        TEXT PRIMARY KEY,
    id             TEXT    NOT NULL,
    chain          TEXT    NOT NULL,
    symbol         TEXT,
    channel        TEXT    NOT NULL,
    message_id     TEXT,
    signal_number  INTEGER NOT NULL DEFAULT 1,
    mention_count  INTEGER NOT NULL DEFAULT 1,
    market_cap     REAL    NOT NULL DEFAULT 0,
    entry_price    REAL    NOT NULL,
    entry_at       TEXT    NOT NULL,
    status         TEXT    NOT NULL,
    checkpoints    TEXT    NOT NULL,
    ath_price      REAL    NOT NULL,
    ath_at         TEXT    NOT NULL,
    ath_multiplier REAL    NOT NULL,
    completed_at   TEXT,
    is_winner      INTEGER NOT NULL DEFAULT 0,
    category       TEXT,
    days_to_ath    REAL    NOT NULL DEFAULT 0,
    updated_at     TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS reputations (
    channel         TEXT PRIMARY KEY,
    total_signals   INTEGER NOT NULL DEFAULT 0,
    wins            INTEGER NOT NULL DEFAULT 0,
    roi_mean        REAL    NOT NULL DEFAULT 0,
    roi_m2          REAL    NOT NULL DEFAULT 0,
    avg_days_to_ath REAL    NOT NULL DEFAULT 0,
    speed_score     REAL    NOT NULL DEFAULT 0,
    score           REAL    NOT NULL,
    tier            TEXT    NOT NULL,
    updated_at      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS price_windows (
    symbol    TEXT    NOT NULL,
    bucket    TEXT    NOT NULL,
    days      INTEGER NOT NULL,
    provider  TEXT    NOT NULL,
    payload   TEXT    NOT NULL,
    stored_at TEXT    NOT NULL,
    PRIMARY KEY (symbol, bucket, days)
);

CREATE TABLE IF NOT EXISTS symbol_mappings (
    address  TEXT NOT NULL,
    provider TEXT NOT NULL,
    symbol   TEXT NOT NULL,
    PRIMARY KEY (address, provider)
);

CREATE INDEX IF NOT EXISTS idx_signals_channel ON signals(channel);
CREATE INDEX IF NOT EXISTS idx_signals_status  ON signals(status);
CREATE INDEX IF NOT EXISTS idx_windows_stored  ON price_windows(stored_at);
`

const retentionWindows = 120 * 24 * time.Hour

// SQLiteStorage implementa los repositorios y el backend de caché usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	saved map[string]uint64 // address → hash del último guardado
	mu    sync.Mutex
}

var (
	_ ports.SignalRepository     = (*SQLiteStorage)(nil)
	_ ports.ReputationRepository = (*SQLiteStorage)(nil)
	_ ports.WindowStore          = (*SQLiteStorage)(nil)
	_ ports.SymbolMapper         = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia ventanas antiguas y precarga la cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		saved: make(map[string]uint64),
	}
	s.pruneOld(context.Background())
	s.warmCache(context.Background())
	return s, nil
}

// --- señales ---

// SaveSignal hace upsert de la señal. No escribe si no cambió desde el último guardado.
func (s *SQLiteStorage) SaveSignal(ctx context.Context, sig domain.Signal) error {
	h := signalHash(sig)
	s.mu.Lock()
	prev, ok := s.saved[sig.Address]
	s.mu.Unlock()
	if ok && prev == h {
		return nil
	}

	cps, err := json.Marshal(sig.Checkpoints)
	if err != nil {
		return fmt.Errorf("storage.SaveSignal: marshal checkpoints: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals
			(address, id, chain, symbol, channel, message_id, signal_number, mention_count,
			 market_cap, entry_price, entry_at, status, checkpoints, ath_price, ath_at,
			 ath_multiplier, completed_at, is_winner, category, days_to_ath, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			id             = excluded.id,
			chain          = excluded.chain,
			symbol         = excluded.symbol,
			channel        = excluded.channel,
			message_id     = excluded.message_id,
			signal_number  = excluded.signal_number,
			mention_count  = excluded.mention_count,
			market_cap     = excluded.market_cap,
			entry_price    = excluded.entry_price,
			entry_at       = excluded.entry_at,
			status         = excluded.status,
			checkpoints    = excluded.checkpoints,
			ath_price      = excluded.ath_price,
			ath_at         = excluded.ath_at,
			ath_multiplier = excluded.ath_multiplier,
			completed_at   = excluded.completed_at,
			is_winner      = excluded.is_winner,
			category       = excluded.category,
			days_to_ath    = excluded.days_to_ath,
			updated_at     = excluded.updated_at
	`,
		sig.Address, sig.ID, sig.Chain, sig.Symbol, sig.Channel, sig.MessageID,
		sig.SignalNumber, sig.MentionCount, sig.MarketCapUSD, sig.EntryPrice,
		formatTime(sig.EntryAt), string(sig.Status), string(cps), sig.ATHPrice,
		formatTime(sig.ATHAt), sig.ATHMultiplier, nullableTime(sig.CompletedAt),
		boolToInt(sig.IsWinner), string(sig.Category), sig.DaysToATH, formatTime(sig.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSignal: upsert %s: %w", sig.Address, err)
	}

	s.mu.Lock()
	s.saved[sig.Address] = h
	s.mu.Unlock()
	return nil
}

const signalColumns = `address, id, chain, symbol, channel, message_id, signal_number, mention_count,
	market_cap, entry_price, entry_at, status, checkpoints, ath_price, ath_at,
	ath_multiplier, completed_at, is_winner, category, days_to_ath, updated_at`

// LoadSignals devuelve todas las señales indexadas por dirección.
func (s *SQLiteStorage) LoadSignals(ctx context.Context) (map[string]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+signalColumns+` FROM signals`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadSignals: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Signal)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.LoadSignals: %w", err)
		}
		out[sig.Address] = sig
	}
	return out, rows.Err()
}

// ListOutcomes devuelve los outcomes de señales completas, más recientes primero.
func (s *SQLiteStorage) ListOutcomes(ctx context.Context, channel string) ([]domain.Outcome, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE status = ?`
	args := []any{string(domain.StatusComplete)}
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY completed_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListOutcomes: query: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListOutcomes: %w", err)
		}
		outcomes = append(outcomes, sig.Outcome())
	}
	return outcomes, rows.Err()
}

func scanSignal(rows *sql.Rows) (domain.Signal, error) {
	var (
		sig                                domain.Signal
		symbol, messageID, category        sql.NullString
		completedAt                        sql.NullString
		entryAt, athAt, updatedAt, cps, st string
		isWinner                           int
	)
	if err := rows.Scan(
		&sig.Address, &sig.ID, &sig.Chain, &symbol, &sig.Channel, &messageID,
		&sig.SignalNumber, &sig.MentionCount, &sig.MarketCapUSD, &sig.EntryPrice,
		&entryAt, &st, &cps, &sig.ATHPrice, &athAt, &sig.ATHMultiplier,
		&completedAt, &isWinner, &category, &sig.DaysToATH, &updatedAt,
	); err != nil {
		return domain.Signal{}, fmt.Errorf("scan row: %w", err)
	}
	if err := json.Unmarshal([]byte(cps), &sig.Checkpoints); err != nil {
		return domain.Signal{}, fmt.Errorf("decode checkpoints %s: %w", sig.Address, err)
	}
	sig.Symbol = symbol.String
	sig.MessageID = messageID.String
	sig.Category = domain.OutcomeCategory(category.String)
	sig.Status = domain.SignalStatus(st)
	sig.IsWinner = isWinner == 1
	sig.EntryAt = parseTime(entryAt)
	sig.ATHAt = parseTime(athAt)
	sig.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		sig.CompletedAt = parseTime(completedAt.String)
	}
	return sig, nil
}

// --- reputación ---

// SaveReputation hace upsert de la reputación del canal.
func (s *SQLiteStorage) SaveReputation(ctx context.Context, r domain.ChannelReputation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reputations
			(channel, total_signals, wins, roi_mean, roi_m2, avg_days_to_ath, speed_score, score, tier, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			total_signals   = excluded.total_signals,
			wins            = excluded.wins,
			roi_mean        = excluded.roi_mean,
			roi_m2          = excluded.roi_m2,
			avg_days_to_ath = excluded.avg_days_to_ath,
			speed_score     = excluded.speed_score,
			score           = excluded.score,
			tier            = excluded.tier,
			updated_at      = excluded.updated_at
	`, r.Channel, r.TotalSignals, r.Wins, r.ROIMean, r.ROIM2, r.AvgDaysToATH,
		r.SpeedScore, r.Score, string(r.Tier), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("storage.SaveReputation: upsert %s: %w", r.Channel, err)
	}
	return nil
}

// LoadReputations devuelve todas las reputaciones indexadas por canal.
func (s *SQLiteStorage) LoadReputations(ctx context.Context) (map[string]domain.ChannelReputation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, total_signals, wins, roi_mean, roi_m2, avg_days_to_ath,
		       speed_score, score, tier, updated_at
		FROM reputations
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadReputations: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.ChannelReputation)
	for rows.Next() {
		var r domain.ChannelReputation
		var tier, updatedAt string
		if err := rows.Scan(&r.Channel, &r.TotalSignals, &r.Wins, &r.ROIMean, &r.ROIM2,
			&r.AvgDaysToATH, &r.SpeedScore, &r.Score, &tier, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage.LoadReputations: scan row: %w", err)
		}
		r.Tier = domain.ReputationTier(tier)
		r.UpdatedAt = parseTime(updatedAt)
		out[r.Channel] = r
	}
	return out, rows.Err()
}

// --- caché de ventanas ---

// LoadWindow lee una ventana persistida.
func (s *SQLiteStorage) LoadWindow(ctx context.Context, key domain.CacheKey) (domain.HistoricalPriceWindow, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM price_windows WHERE symbol = ? AND bucket = ? AND days = ?`,
		key.Symbol, key.Date, key.Days,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.HistoricalPriceWindow{}, false, nil
	}
	if err != nil {
		return domain.HistoricalPriceWindow{}, false, fmt.Errorf("storage.LoadWindow: %w", err)
	}

	var w domain.HistoricalPriceWindow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return domain.HistoricalPriceWindow{}, false, fmt.Errorf("storage.LoadWindow: decode: %w", err)
	}
	return w, true, nil
}

// SaveWindows escribe un lote de ventanas en una sola transacción.
func (s *SQLiteStorage) SaveWindows(ctx context.Context, windows map[domain.CacheKey]domain.HistoricalPriceWindow) error {
	if len(windows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveWindows: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_windows (symbol, bucket, days, provider, payload, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, bucket, days) DO UPDATE SET
			provider  = excluded.provider,
			payload   = excluded.payload,
			stored_at = excluded.stored_at
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveWindows: prepare: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for key, w := range windows {
		raw, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("storage.SaveWindows: marshal %s: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key.Symbol, key.Date, key.Days, w.Provider, string(raw), now); err != nil {
			return fmt.Errorf("storage.SaveWindows: upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveWindows: commit: %w", err)
	}
	return nil
}

// --- mapeo de símbolos ---

// ProviderSymbol devuelve el símbolo guardado para (address, provider).
func (s *SQLiteStorage) ProviderSymbol(ctx context.Context, address, provider string) (string, bool, error) {
	var sym string
	err := s.db.QueryRowContext(ctx,
		`SELECT symbol FROM symbol_mappings WHERE address = ? AND provider = ?`, address, provider,
	).Scan(&sym)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage.ProviderSymbol: %w", err)
	}
	return sym, true, nil
}

// SaveProviderSymbol persiste el mapeo.
func (s *SQLiteStorage) SaveProviderSymbol(ctx context.Context, address, provider, symbol string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbol_mappings (address, provider, symbol) VALUES (?, ?, ?)
		ON CONFLICT(address, provider) DO UPDATE SET symbol = excluded.symbol
	`, address, provider, symbol)
	if err != nil {
		return fmt.Errorf("storage.SaveProviderSymbol: %w", err)
	}
	return nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina ventanas de precio antiguas para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(time.Now().Add(-retentionWindows))
	s.db.ExecContext(ctx, `DELETE FROM price_windows WHERE stored_at < ?`, cutoff)
}

// warmCache precarga el hash de cada señal, evitando reescrituras tras un reinicio.
func (s *SQLiteStorage) warmCache(ctx context.Context) {
	signals, err := s.LoadSignals(ctx)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, sig := range signals {
		s.saved[addr] = signalHash(sig)
	}
}

// signalHash resume el contenido de la señal para detectar cambios.
func signalHash(sig domain.Signal) uint64 {
	raw, _ := json.Marshal(sig)
	h := fnv.New64a()
	h.Write(raw)
	return h.Sum64()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
