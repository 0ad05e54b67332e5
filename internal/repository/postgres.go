package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/cardbook/internal/model"
)

// PostgresStore предоставляет доступ к хранилищу в PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresStore создаёт пул соединений и инициализирует схему БД через миграции.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/postgres"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликтах сериализации, взаимоблокировках и обрывах соединения.
func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(s.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !isRetryable(err) || i == len(s.delays) {
			break
		}

		timer := time.NewTimer(s.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// inTx выполняет fn в транзакции и повторяет её целиком при временных ошибках.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return persistErr("begin tx", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return persistErr("commit tx", err)
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateUser сохраняет нового пользователя.
func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, last_login_at, is_cloud_sync_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt, u.LastLoginAt, u.IsCloudSyncEnabled,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
		}
		return persistErr("create user", err)
	}
	return nil
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at, last_login_at, is_cloud_sync_enabled FROM users WHERE `+where,
		arg,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.LastLoginAt, &u.IsCloudSyncEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, persistErr("get user", err)
	}
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.getUser(ctx, "id = $1", id)
}

// GetUserByUsername возвращает пользователя по имени.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, "username = $1", username)
}

// UpdateUser обновляет время входа и флаг синхронизации.
func (s *PostgresStore) UpdateUser(ctx context.Context, u model.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2, is_cloud_sync_enabled = $3 WHERE id = $1`,
		u.ID, u.LastLoginAt, u.IsCloudSyncEnabled,
	)
	if err != nil {
		return persistErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanPgCard(row pgx.Row) (model.Card, error) {
	var c model.Card
	err := row.Scan(&c.ID, &c.UserID, &c.CardType, &c.Nickname, &c.Issuer, &c.Network, &c.Variant, &c.AddedAt)
	return c, err
}

func scanPgCredit(row pgx.Row) (model.Credit, error) {
	var (
		c         model.Credit
		frequency string
		cents     int64
	)
	err := row.Scan(&c.ID, &c.CardID, &c.Name, &c.FrequencyLabel, &frequency, &cents, &c.Currency, &c.Category,
		&c.RenewalDate, &c.ExpirationDate, &c.IsUsed, &c.UsedAt, &c.Description, &c.Terms)
	if err != nil {
		return c, err
	}
	c.Frequency = model.Frequency(frequency)
	c.Amount = fromCents(cents)
	return c, nil
}

func (s *PostgresStore) queryCredits(ctx context.Context, query string, args ...any) ([]model.Credit, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr("select credits", err)
	}
	defer rows.Close()

	credits := []model.Credit{}
	for rows.Next() {
		c, err := scanPgCredit(rows)
		if err != nil {
			return nil, persistErr("scan credit", err)
		}
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("rows error", err)
	}
	return credits, nil
}

func insertPgCredit(ctx context.Context, tx pgx.Tx, c model.Credit) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO credits (`+creditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.CardID, c.Name, c.FrequencyLabel, string(c.Frequency), toCents(c.Amount), c.Currency, c.Category,
		c.RenewalDate, c.ExpirationDate, c.IsUsed, c.UsedAt, c.Description, c.Terms,
	)
	return err
}

func lockPgCard(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM cards WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrCardNotFound
	}
	if err != nil {
		return persistErr("lock card", err)
	}
	return nil
}

// ListCards возвращает карты от новых к старым вместе с кредитами, отсортированными по названию.
func (s *PostgresStore) ListCards(ctx context.Context) ([]model.Card, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, card_type, nickname, issuer, network, variant, added_at
		 FROM cards
		 ORDER BY added_at DESC, nickname ASC`,
	)
	if err != nil {
		return nil, persistErr("select cards", err)
	}
	defer rows.Close()

	cards := []model.Card{}
	for rows.Next() {
		c, err := scanPgCard(rows)
		if err != nil {
			return nil, persistErr("scan card", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("rows error", err)
	}

	credits, err := s.queryCredits(ctx, `SELECT `+creditColumns+` FROM credits ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}

	attachCredits(cards, credits)
	return cards, nil
}

// GetCard возвращает карту вместе с кредитами.
func (s *PostgresStore) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	c, err := scanPgCard(s.pool.QueryRow(ctx,
		`SELECT id, user_id, card_type, nickname, issuer, network, variant, added_at FROM cards WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, persistErr("get card", err)
	}

	credits, err := s.queryCredits(ctx,
		`SELECT `+creditColumns+` FROM credits WHERE card_id = $1 ORDER BY name ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	c.Credits = credits
	return &c, nil
}

// CreateCard сохраняет карту и все её кредиты в одной транзакции.
func (s *PostgresStore) CreateCard(ctx context.Context, c model.Card) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO cards (id, user_id, card_type, nickname, issuer, network, variant, added_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.UserID, c.CardType, c.Nickname, c.Issuer, c.Network, c.Variant, c.AddedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrCardExists, c.ID)
			}
			return persistErr("insert card", err)
		}

		for _, cr := range c.Credits {
			cr.CardID = c.ID
			if err := insertPgCredit(ctx, tx, cr); err != nil {
				return persistErr("insert credit", err)
			}
		}
		return nil
	})
}

// UpdateCard обновляет поля карты. Кредиты не затрагиваются.
func (s *PostgresStore) UpdateCard(ctx context.Context, c model.Card) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cards SET user_id = $2, card_type = $3, nickname = $4, issuer = $5, network = $6, variant = $7
		 WHERE id = $1`,
		c.ID, c.UserID, c.CardType, c.Nickname, c.Issuer, c.Network, c.Variant,
	)
	if err != nil {
		return persistErr("update card", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// ReplaceCard обновляет поля карты и заменяет все её кредиты в одной транзакции.
func (s *PostgresStore) ReplaceCard(ctx context.Context, c model.Card) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE cards SET user_id = $2, card_type = $3, nickname = $4, issuer = $5, network = $6, variant = $7
			 WHERE id = $1`,
			c.ID, c.UserID, c.CardType, c.Nickname, c.Issuer, c.Network, c.Variant,
		)
		if err != nil {
			return persistErr("update card", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCardNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM credits WHERE card_id = $1`, c.ID); err != nil {
			return persistErr("delete credits", err)
		}
		for _, cr := range c.Credits {
			cr.CardID = c.ID
			if err := insertPgCredit(ctx, tx, cr); err != nil {
				return persistErr("insert credit", err)
			}
		}
		return nil
	})
}

// DeleteCard удаляет карту и её кредиты.
func (s *PostgresStore) DeleteCard(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM credits WHERE card_id = $1`, id); err != nil {
			return persistErr("delete credits", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM cards WHERE id = $1`, id)
		if err != nil {
			return persistErr("delete card", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCardNotFound
		}
		return nil
	})
}

// ListCredits возвращает кредиты по возрастанию даты истечения, затем по названию.
func (s *PostgresStore) ListCredits(ctx context.Context, f CreditFilter) ([]model.Credit, error) {
	var (
		conds []string
		args  []any
	)
	if f.CardID != nil {
		args = append(args, *f.CardID)
		conds = append(conds, fmt.Sprintf("card_id = $%d", len(args)))
	}
	if f.IsUsed != nil {
		args = append(args, *f.IsUsed)
		conds = append(conds, fmt.Sprintf("is_used = $%d", len(args)))
	}

	query := `SELECT ` + creditColumns + ` FROM credits`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY expiration_date ASC, name ASC`

	return s.queryCredits(ctx, query, args...)
}

// GetCredit возвращает кредит по идентификатору.
func (s *PostgresStore) GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	c, err := scanPgCredit(s.pool.QueryRow(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCreditNotFound
		}
		return nil, persistErr("get credit", err)
	}
	return &c, nil
}

// UpsertCredit создаёт или обновляет кредит. Карта кредита должна существовать.
func (s *PostgresStore) UpsertCredit(ctx context.Context, c model.Credit) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockPgCard(ctx, tx, c.CardID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO credits (`+creditColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (id) DO UPDATE SET
				card_id = EXCLUDED.card_id,
				name = EXCLUDED.name,
				frequency_label = EXCLUDED.frequency_label,
				frequency = EXCLUDED.frequency,
				amount_cents = EXCLUDED.amount_cents,
				currency = EXCLUDED.currency,
				category = EXCLUDED.category,
				renewal_date = EXCLUDED.renewal_date,
				expiration_date = EXCLUDED.expiration_date,
				is_used = EXCLUDED.is_used,
				used_at = EXCLUDED.used_at,
				description = EXCLUDED.description,
				terms = EXCLUDED.terms`,
			c.ID, c.CardID, c.Name, c.FrequencyLabel, string(c.Frequency), toCents(c.Amount), c.Currency, c.Category,
			c.RenewalDate, c.ExpirationDate, c.IsUsed, c.UsedAt, c.Description, c.Terms,
		)
		if err != nil {
			return persistErr("upsert credit", err)
		}
		return nil
	})
}

// DeleteCredit удаляет кредит.
func (s *PostgresStore) DeleteCredit(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM credits WHERE id = $1`, id)
	if err != nil {
		return persistErr("delete credit", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCreditNotFound
	}
	return nil
}

// SaveCredits атомарно сохраняет изменённые кредиты.
// Если хотя бы одного кредита нет в базе, транзакция откатывается.
func (s *PostgresStore) SaveCredits(ctx context.Context, credits []model.Credit) error {
	if len(credits) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range credits {
			batch.Queue(
				`UPDATE credits SET name = $2, frequency_label = $3, frequency = $4, amount_cents = $5, currency = $6,
					category = $7, renewal_date = $8, expiration_date = $9, is_used = $10, used_at = $11,
					description = $12, terms = $13
				 WHERE id = $1`,
				c.ID, c.Name, c.FrequencyLabel, string(c.Frequency), toCents(c.Amount), c.Currency,
				c.Category, c.RenewalDate, c.ExpirationDate, c.IsUsed, c.UsedAt, c.Description, c.Terms,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for _, c := range credits {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return persistErr("update credit", err)
			}
			if tag.RowsAffected() == 0 {
				br.Close()
				return fmt.Errorf("%w: %s", ErrCreditNotFound, c.ID)
			}
		}
		if err := br.Close(); err != nil {
			return persistErr("close batch", err)
		}
		return nil
	})
}
