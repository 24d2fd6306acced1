package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/chainvoice/internal/invoice"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Track(ctx context.Context, ref Ref) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (chain_id, address)
		VALUES ($1, $2)
		ON CONFLICT (chain_id, address) DO NOTHING
	`, ref.ChainID, ref.Address)
	return err
}

func (s *PostgresStore) SaveLog(ctx context.Context, ref Ref, core invoice.Core, events []invoice.Event) error {
	coreJSON, err := json.Marshal(core)
	if err != nil {
		return fmt.Errorf("marshal core: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (chain_id, address, core)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_id, address) DO UPDATE SET core = EXCLUDED.core
	`, ref.ChainID, ref.Address, coreJSON); err != nil {
		return err
	}

	// The log is append-only upstream, so a full replace is always safe.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM invoice_events WHERE chain_id = $1 AND invoice_addr = $2
	`, ref.ChainID, ref.Address); err != nil {
		return err
	}

	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_events (
				chain_id, invoice_addr, event_id, tx_hash, ts, log_index, event_type,
				sender, amount, milestone, details_hash,
				client_award, provider_award, resolution_fee, resolver_type, client
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, ref.ChainID, ref.Address, e.ID, e.TxHash, e.Timestamp, int64(e.LogIndex), string(e.Type),
			e.Sender.Hex(), bigText(e.Amount), e.Milestone, e.DetailsHash,
			bigText(e.ClientAward), bigText(e.ProviderAward), bigText(e.ResolutionFee), e.ResolverType, e.Client.Hex(),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Log(ctx context.Context, ref Ref) (invoice.Core, []invoice.Event, error) {
	var coreJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT core FROM invoices WHERE chain_id = $1 AND address = $2
	`, ref.ChainID, ref.Address).Scan(&coreJSON)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && coreJSON == nil) {
		// Tracked-only rows have no core; nothing replayable yet.
		return invoice.Core{}, nil, ErrNotTracked
	}
	if err != nil {
		return invoice.Core{}, nil, err
	}

	var core invoice.Core
	if err := json.Unmarshal(coreJSON, &core); err != nil {
		return invoice.Core{}, nil, fmt.Errorf("unmarshal core: %w", err)
	}

	events, err := s.events(ctx, ref)
	if err != nil {
		return invoice.Core{}, nil, err
	}
	return core, events, nil
}

func (s *PostgresStore) events(ctx context.Context, ref Ref) ([]invoice.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, tx_hash, ts, log_index, event_type,
		       sender, COALESCE(amount, ''), milestone, details_hash,
		       COALESCE(client_award, ''), COALESCE(provider_award, ''), COALESCE(resolution_fee, ''),
		       resolver_type, client
		FROM invoice_events
		WHERE chain_id = $1 AND invoice_addr = $2
		ORDER BY ts ASC, log_index ASC
	`, ref.ChainID, ref.Address)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []invoice.Event
	for rows.Next() {
		var (
			e                              invoice.Event
			logIndex                       int64
			eventType                      string
			sender, client                 string
			amount, cAward, pAward, resFee string
		)
		if err := rows.Scan(&e.ID, &e.TxHash, &e.Timestamp, &logIndex, &eventType,
			&sender, &amount, &e.Milestone, &e.DetailsHash,
			&cAward, &pAward, &resFee, &e.ResolverType, &client,
		); err != nil {
			return nil, err
		}
		e.LogIndex = uint(logIndex)
		e.Type = invoice.EventType(eventType)
		e.Sender = common.HexToAddress(sender)
		e.Client = common.HexToAddress(client)
		if e.Amount, err = textBig(amount); err != nil {
			return nil, fmt.Errorf("event %s amount: %w", e.ID, err)
		}
		if e.ClientAward, err = textBig(cAward); err != nil {
			return nil, fmt.Errorf("event %s client award: %w", e.ID, err)
		}
		if e.ProviderAward, err = textBig(pAward); err != nil {
			return nil, fmt.Errorf("event %s provider award: %w", e.ID, err)
		}
		if e.ResolutionFee, err = textBig(resFee); err != nil {
			return nil, fmt.Errorf("event %s resolution fee: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Tracked(ctx context.Context) ([]Ref, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, address FROM invoices ORDER BY chain_id, address
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []Ref
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.ChainID, &ref.Address); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// bigText renders an amount as decimal text, NULL for absent fields.
// Amounts exceed NUMERIC-friendly precision policies, so TEXT keeps
// them exact.
func bigText(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func textBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
