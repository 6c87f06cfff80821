package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxengine/internal/model"
)

// Store provides Postgres persistence for the assimilator registry, pool
// template records, and quote audit rows. Registry and pool rows are
// write-once: inserts are idempotent and never overwrite.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertAssimilator registers an assimilator record. The
// (chain_id, token, oracle, template) key is write-once: a second insert for
// the same key is a no-op and inserted reports false.
func (s *Store) InsertAssimilator(ctx context.Context, rec model.AssimilatorRecord) (inserted bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO assimilators (
			chain_id, token, oracle, template, address, decimals, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (chain_id, token, oracle, template) DO NOTHING
	`,
		int64(rec.ChainID),
		rec.Token,
		rec.Oracle,
		rec.Template,
		rec.Address,
		int16(rec.Decimals),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LookupAssimilator returns the registered address for a key, or ok=false.
func (s *Store) LookupAssimilator(ctx context.Context, chainID uint64, token, oracle, template string) (address string, ok bool, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address FROM assimilators
		WHERE chain_id = $1 AND token = $2 AND oracle = $3 AND template = $4
	`, int64(chainID), token, oracle, template)
	if err := row.Scan(&address); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return address, true, nil
}

// InsertPool records which template a pool was deployed with, write-once per
// (chain_id, pool_id).
func (s *Store) InsertPool(ctx context.Context, rec model.PoolRecord) (inserted bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pools (
			chain_id, pool_id, base_token, quote_token, template, created_at
		) VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (chain_id, pool_id) DO NOTHING
	`,
		int64(rec.ChainID),
		rec.PoolID,
		rec.BaseToken,
		rec.QuoteToken,
		rec.Template,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PutQuotes appends quote audit rows in one batch.
func (s *Store) PutQuotes(ctx context.Context, quotes []model.QuoteRecord) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(`
			INSERT INTO quotes (
				chain_id, pool_id, operation, deposit_value, min_shares,
				max_base, max_quote, swap_asset, swap_amount_raw,
				slippage_bps, quoted_at, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,to_timestamp($11),now())
		`,
			int64(q.ChainID),
			q.PoolID,
			q.Operation,
			q.DepositValue,
			q.MinShares,
			q.MaxBase,
			q.MaxQuote,
			q.SwapAsset,
			q.SwapAmountRaw,
			int32(q.SlippageBps),
			q.QuotedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range quotes {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
