package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrow-engine/internal/fees"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPriceSampleSQL = `INSERT INTO price_samples (
        bucket_ts,
        chain_id,
        symbol,
        price_usd,
        provider,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, chain_id) DO UPDATE
    SET
        symbol    = EXCLUDED.symbol,
        price_usd = EXCLUDED.price_usd,
        provider  = EXCLUDED.provider,
        status    = EXCLUDED.status,
        error     = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        bucket_ts,
        chain_id,
        symbol,
        price_usd,
        provider,
        status,
        error,
        created_at
    FROM price_samples
    WHERE chain_id = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentSamplesSQL = `SELECT
        bucket_ts,
        chain_id,
        symbol,
        price_usd,
        provider,
        status,
        error,
        created_at
    FROM price_samples
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples;`

	insertFeeAuditSQL = `INSERT INTO fee_audits (
        user_address,
        chain_id,
        amount,
        client_fee,
        authoritative_fee,
        valid,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listRecentFeeAuditsSQL = `SELECT
        id,
        user_address,
        chain_id,
        amount,
        client_fee,
        authoritative_fee,
        valid,
        created_at
    FROM fee_audits
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceSampleStore defines operations for price sample persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, chainID uint64, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// FeeAuditStore defines operations over the fee audit trail.
type FeeAuditStore interface {
	InsertFeeAudit(ctx context.Context, record fees.AuditRecord) error
	ListRecentFeeAudits(ctx context.Context, limit int) ([]FeeAudit, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price samples and fee audits.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best-effort release; the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPriceSample persists or updates a price sample.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Bucket,
		int64(sample.ChainID),
		sample.Symbol,
		sample.PriceUSD.String(),
		sample.Provider,
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one chain's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, chainID uint64, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, int64(chainID), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending bucket.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertFeeAudit persists a fee validation outcome.
func (s *Store) InsertFeeAudit(ctx context.Context, record fees.AuditRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, execErr := pool.Exec(ctx, insertFeeAuditSQL,
		record.User,
		int64(record.ChainID),
		record.Amount.String(),
		record.ClientFee.String(),
		record.AuthoritativeFee.String(),
		record.Valid,
		createdAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert fee audit: %w", execErr)
	}
	return nil
}

// ListRecentFeeAudits lists most recent fee validations.
func (s *Store) ListRecentFeeAudits(ctx context.Context, limit int) ([]FeeAudit, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFeeAuditsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent fee audits: %w", queryErr)
	}
	defer rows.Close()

	audits := make([]FeeAudit, 0, limit)
	for rows.Next() {
		var (
			audit       FeeAudit
			chainID     int64
			amountStr   string
			clientStr   string
			authorStr   string
		)
		if err := rows.Scan(
			&audit.ID,
			&audit.UserAddress,
			&chainID,
			&amountStr,
			&clientStr,
			&authorStr,
			&audit.Valid,
			&audit.CreatedAt,
		); err != nil {
			return nil, err
		}
		audit.ChainID = uint64(chainID)

		var convErr error
		audit.Amount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse audit amount: %w", convErr)
		}
		audit.ClientFee, convErr = decimal.NewFromString(clientStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse client fee: %w", convErr)
		}
		audit.AuthoritativeFee, convErr = decimal.NewFromString(authorStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse authoritative fee: %w", convErr)
		}

		audits = append(audits, audit)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return audits, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		bucket    time.Time
		chainID   int64
		symbol    string
		priceStr  string
		provider  string
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&bucket,
		&chainID,
		&symbol,
		&priceStr,
		&provider,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}

	sample := PriceSample{
		Bucket:    bucket,
		ChainID:   uint64(chainID),
		Symbol:    symbol,
		PriceUSD:  price,
		Provider:  provider,
		Status:    status,
		CreatedAt: createdAt,
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}
