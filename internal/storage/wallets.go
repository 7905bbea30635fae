package storage

import (
	"database/sql"
	"errors"
	"time"
)

// WalletRecord is a custodial wallet held for one chat user
type WalletRecord struct {
	UserID     int64
	Chain      string
	PublicKey  string
	PrivateKey string
	CreatedAt  int64
}

// CheckWallet returns the user's wallet and whether one exists
func (d *DB) CheckWallet(userID int64) (*WalletRecord, bool, error) {
	var w WalletRecord
	err := d.db.QueryRow(`
		SELECT user_id, chain, public_key, private_key, created_at
		FROM wallets WHERE user_id = ?`, userID).Scan(
		&w.UserID, &w.Chain, &w.PublicKey, &w.PrivateKey, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &w, true, nil
}

// SaveWallet inserts or replaces the user's wallet
func (d *DB) SaveWallet(w *WalletRecord) error {
	if w.Chain == "" {
		w.Chain = "solana"
	}
	if w.CreatedAt == 0 {
		w.CreatedAt = time.Now().Unix()
	}
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO wallets (user_id, chain, public_key, private_key, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.UserID, w.Chain, w.PublicKey, w.PrivateKey, w.CreatedAt)
	return err
}

// DeleteWallet removes the user's wallet
func (d *DB) DeleteWallet(userID int64) error {
	_, err := d.db.Exec("DELETE FROM wallets WHERE user_id = ?", userID)
	return err
}
