package storage

import (
	"database/sql"
	"errors"
	"time"
)

// Trade sides
const (
	SideBuy      = "BUY"
	SideSell     = "SELL"
	SideWithdraw = "WITHDRAW"
)

// Trade is one buy, sell or withdrawal made for a user
type Trade struct {
	ID        int64
	UserID    int64
	Side      string
	Mint      string
	Amount    uint64 // base units sent
	AmountOut uint64 // base units received, buys and sells only
	Signature string
	Status    string
	Timestamp int64
}

// Settings are a user's trade preferences
type Settings struct {
	UserID              int64
	SlippageBps         int
	PriorityFeeLamports uint64
	JitoTipLamports     uint64
}

// InsertTrade logs a trade
func (d *DB) InsertTrade(t *Trade) error {
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().Unix()
	}
	res, err := d.db.Exec(`
		INSERT INTO trades (user_id, side, mint, amount, amount_out, signature, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Side, t.Mint, t.Amount, t.AmountOut, t.Signature, t.Status, t.Timestamp)
	if err != nil {
		return err
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// GetRecentTrades retrieves a user's most recent trades
func (d *DB) GetRecentTrades(userID int64, limit int) ([]*Trade, error) {
	rows, err := d.db.Query(`
		SELECT id, user_id, side, mint, amount, amount_out, signature, status, timestamp
		FROM trades WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.UserID, &t.Side, &t.Mint, &t.Amount, &t.AmountOut, &t.Signature, &t.Status, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// GetTradingStats returns a user's trade count and how many succeeded
func (d *DB) GetTradingStats(userID int64) (total int, succeeded int, err error) {
	err = d.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0)
		FROM trades WHERE user_id = ?`, userID).Scan(&total, &succeeded)
	return
}

// GetSettings returns the user's saved settings, or found=false
func (d *DB) GetSettings(userID int64) (*Settings, bool, error) {
	var s Settings
	err := d.db.QueryRow(`
		SELECT user_id, slippage_bps, priority_fee, jito_tip
		FROM settings WHERE user_id = ?`, userID).Scan(
		&s.UserID, &s.SlippageBps, &s.PriorityFeeLamports, &s.JitoTipLamports)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

// SaveSettings inserts or replaces the user's settings
func (d *DB) SaveSettings(s *Settings) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO settings (user_id, slippage_bps, priority_fee, jito_tip)
		VALUES (?, ?, ?, ?)`,
		s.UserID, s.SlippageBps, s.PriorityFeeLamports, s.JitoTipLamports)
	return err
}
