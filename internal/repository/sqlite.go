package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmeshcher/cardbook/internal/model"
)

// Постоянная ширина поля сохраняет хронологический порядок при сортировке строк.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore хранит данные в файле SQLite или в памяти.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает базу по пути path и применяет миграции.
// Путь ":memory:" создаёт изолированную базу в памяти.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// База в памяти существует, пока открыто её единственное соединение.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, s.db, "migrations/sqlite"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает базу.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func encodeOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func isSQLiteConstraint(err error, code int) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == code
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCredit(row rowScanner) (model.Credit, error) {
	var (
		c                   model.Credit
		id, cardID          string
		frequency           string
		cents               int64
		renewal, expiration string
		isUsed              bool
		usedAt              sql.NullString
		description, terms  sql.NullString
	)

	err := row.Scan(&id, &cardID, &c.Name, &c.FrequencyLabel, &frequency, &cents, &c.Currency, &c.Category,
		&renewal, &expiration, &isUsed, &usedAt, &description, &terms)
	if err != nil {
		return c, err
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return c, fmt.Errorf("parse credit id: %w", err)
	}
	if c.CardID, err = uuid.Parse(cardID); err != nil {
		return c, fmt.Errorf("parse card id: %w", err)
	}
	if c.RenewalDate, err = decodeTime(renewal); err != nil {
		return c, fmt.Errorf("parse renewal date: %w", err)
	}
	if c.ExpirationDate, err = decodeTime(expiration); err != nil {
		return c, fmt.Errorf("parse expiration date: %w", err)
	}
	if usedAt.Valid {
		t, err := decodeTime(usedAt.String)
		if err != nil {
			return c, fmt.Errorf("parse used at: %w", err)
		}
		c.UsedAt = &t
	}

	c.Frequency = model.Frequency(frequency)
	c.Amount = fromCents(cents)
	c.IsUsed = isUsed
	if description.Valid {
		c.Description = &description.String
	}
	if terms.Valid {
		c.Terms = &terms.String
	}
	return c, nil
}

func creditArgs(c model.Credit) []any {
	return []any{
		c.ID.String(), c.CardID.String(), c.Name, c.FrequencyLabel, string(c.Frequency), toCents(c.Amount),
		c.Currency, c.Category, encodeTime(c.RenewalDate), encodeTime(c.ExpirationDate), c.IsUsed,
		encodeOptionalTime(c.UsedAt), c.Description, c.Terms,
	}
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertSQLiteCredit(ctx context.Context, q sqlExecer, c model.Credit) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO credits (`+creditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		creditArgs(c)...,
	)
	return err
}

func sqliteCardExists(ctx context.Context, q sqlExecer, id uuid.UUID) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM cards WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser сохраняет нового пользователя.
func (s *SQLiteStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, last_login_at, is_cloud_sync_enabled)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Username, u.PasswordHash, encodeTime(u.CreatedAt), encodeTime(u.LastLoginAt), u.IsCloudSyncEnabled,
	)
	if err != nil {
		if isSQLiteConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) || isSQLiteConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
		}
		return persistErr("create user", err)
	}
	return nil
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, last_login_at, is_cloud_sync_enabled FROM users WHERE `+where,
		arg,
	)

	var (
		u                  model.User
		id                 string
		created, lastLogin string
	)
	err := row.Scan(&id, &u.Username, &u.PasswordHash, &created, &lastLogin, &u.IsCloudSyncEnabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, persistErr("get user", err)
	}

	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, persistErr("parse user id", err)
	}
	if u.CreatedAt, err = decodeTime(created); err != nil {
		return nil, persistErr("parse created at", err)
	}
	if u.LastLoginAt, err = decodeTime(lastLogin); err != nil {
		return nil, persistErr("parse last login", err)
	}
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.getUser(ctx, "id = ?", id.String())
}

// GetUserByUsername возвращает пользователя по имени.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, "username = ?", username)
}

// UpdateUser обновляет время входа и флаг синхронизации.
func (s *SQLiteStore) UpdateUser(ctx context.Context, u model.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, is_cloud_sync_enabled = ? WHERE id = ?`,
		encodeTime(u.LastLoginAt), u.IsCloudSyncEnabled, u.ID.String(),
	)
	if err != nil {
		return persistErr("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanSQLiteCard(row rowScanner) (model.Card, error) {
	var (
		c       model.Card
		id      string
		userID  sql.NullString
		addedAt string
	)
	err := row.Scan(&id, &userID, &c.CardType, &c.Nickname, &c.Issuer, &c.Network, &c.Variant, &addedAt)
	if err != nil {
		return c, err
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return c, fmt.Errorf("parse card id: %w", err)
	}
	if userID.Valid {
		uid, err := uuid.Parse(userID.String)
		if err != nil {
			return c, fmt.Errorf("parse user id: %w", err)
		}
		c.UserID = &uid
	}
	if c.AddedAt, err = decodeTime(addedAt); err != nil {
		return c, fmt.Errorf("parse added at: %w", err)
	}
	return c, nil
}

func optionalUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// ListCards возвращает карты от новых к старым вместе с кредитами, отсортированными по названию.
func (s *SQLiteStore) ListCards(ctx context.Context) ([]model.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, card_type, nickname, issuer, network, variant, added_at
		 FROM cards
		 ORDER BY added_at DESC, nickname ASC`,
	)
	if err != nil {
		return nil, persistErr("select cards", err)
	}

	cards := []model.Card{}
	for rows.Next() {
		c, err := scanSQLiteCard(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("scan card", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, persistErr("rows error", err)
	}
	rows.Close()

	credits, err := s.queryCredits(ctx, `SELECT `+creditColumns+` FROM credits ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}

	attachCredits(cards, credits)
	return cards, nil
}

// GetCard возвращает карту вместе с кредитами.
func (s *SQLiteStore) GetCard(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, card_type, nickname, issuer, network, variant, added_at FROM cards WHERE id = ?`,
		id.String(),
	)
	c, err := scanSQLiteCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, persistErr("get card", err)
	}

	credits, err := s.queryCredits(ctx,
		`SELECT `+creditColumns+` FROM credits WHERE card_id = ? ORDER BY name ASC, id ASC`,
		id.String(),
	)
	if err != nil {
		return nil, err
	}
	c.Credits = credits
	return &c, nil
}

// CreateCard сохраняет карту и все её кредиты в одной транзакции.
func (s *SQLiteStore) CreateCard(ctx context.Context, c model.Card) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cards (id, user_id, card_type, nickname, issuer, network, variant, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), optionalUUID(c.UserID), c.CardType, c.Nickname, c.Issuer, c.Network, c.Variant, encodeTime(c.AddedAt),
	)
	if err != nil {
		if isSQLiteConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("%w: %s", ErrCardExists, c.ID)
		}
		return persistErr("insert card", err)
	}

	for _, cr := range c.Credits {
		cr.CardID = c.ID
		if err := insertSQLiteCredit(ctx, tx, cr); err != nil {
			return persistErr("insert credit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit tx", err)
	}
	return nil
}

// UpdateCard обновляет поля карты. Кредиты не затрагиваются.
func (s *SQLiteStore) UpdateCard(ctx context.Context, c model.Card) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cards SET user_id = ?, card_type = ?, nickname = ?, issuer = ?, network = ?, variant = ?
		 WHERE id = ?`,
		optionalUUID(c.UserID), c.CardType, c.Nickname, c.Issuer, c.Network, c.Variant, c.ID.String(),
	)
	if err != nil {
		return persistErr("update card", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}
	return nil
}

// ReplaceCard обновляет поля карты и заменяет все её кредиты в одной транзакции.
func (s *SQLiteStore) ReplaceCard(ctx context.Context, c model.Card) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE cards SET user_id = ?, card_type = ?, nickname = ?, issuer = ?, network = ?, variant = ?
		 WHERE id = ?`,
		optionalUUID(c.UserID), c.CardType, c.Nickname, c.Issuer, c.Network, c.Variant, c.ID.String(),
	)
	if err != nil {
		return persistErr("update card", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credits WHERE card_id = ?`, c.ID.String()); err != nil {
		return persistErr("delete credits", err)
	}
	for _, cr := range c.Credits {
		cr.CardID = c.ID
		if err := insertSQLiteCredit(ctx, tx, cr); err != nil {
			return persistErr("insert credit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit tx", err)
	}
	return nil
}

// DeleteCard удаляет карту и её кредиты.
func (s *SQLiteStore) DeleteCard(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credits WHERE card_id = ?`, id.String()); err != nil {
		return persistErr("delete credits", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id.String())
	if err != nil {
		return persistErr("delete card", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit tx", err)
	}
	return nil
}

func (s *SQLiteStore) queryCredits(ctx context.Context, query string, args ...any) ([]model.Credit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("select credits", err)
	}
	defer rows.Close()

	credits := []model.Credit{}
	for rows.Next() {
		c, err := scanSQLiteCredit(rows)
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

// ListCredits возвращает кредиты по возрастанию даты истечения, затем по названию.
func (s *SQLiteStore) ListCredits(ctx context.Context, f CreditFilter) ([]model.Credit, error) {
	var (
		conds []string
		args  []any
	)
	if f.CardID != nil {
		conds = append(conds, "card_id = ?")
		args = append(args, f.CardID.String())
	}
	if f.IsUsed != nil {
		conds = append(conds, "is_used = ?")
		args = append(args, *f.IsUsed)
	}

	query := `SELECT ` + creditColumns + ` FROM credits`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY expiration_date ASC, name ASC`

	return s.queryCredits(ctx, query, args...)
}

// GetCredit возвращает кредит по идентификатору.
func (s *SQLiteStore) GetCredit(ctx context.Context, id uuid.UUID) (*model.Credit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = ?`, id.String())
	c, err := scanSQLiteCredit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCreditNotFound
		}
		return nil, persistErr("get credit", err)
	}
	return &c, nil
}

// UpsertCredit создаёт или обновляет кредит. Карта кредита должна существовать.
func (s *SQLiteStore) UpsertCredit(ctx context.Context, c model.Credit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	exists, err := sqliteCardExists(ctx, tx, c.CardID)
	if err != nil {
		return persistErr("check card", err)
	}
	if !exists {
		return ErrCardNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credits (`+creditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			card_id = excluded.card_id,
			name = excluded.name,
			frequency_label = excluded.frequency_label,
			frequency = excluded.frequency,
			amount_cents = excluded.amount_cents,
			currency = excluded.currency,
			category = excluded.category,
			renewal_date = excluded.renewal_date,
			expiration_date = excluded.expiration_date,
			is_used = excluded.is_used,
			used_at = excluded.used_at,
			description = excluded.description,
			terms = excluded.terms`,
		creditArgs(c)...,
	)
	if err != nil {
		return persistErr("upsert credit", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit tx", err)
	}
	return nil
}

// DeleteCredit удаляет кредит.
func (s *SQLiteStore) DeleteCredit(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credits WHERE id = ?`, id.String())
	if err != nil {
		return persistErr("delete credit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCreditNotFound
	}
	return nil
}

// SaveCredits атомарно сохраняет изменённые кредиты.
// Если хотя бы одного кредита нет в базе, ничего не записывается.
func (s *SQLiteStore) SaveCredits(ctx context.Context, credits []model.Credit) error {
	if len(credits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	for _, c := range credits {
		res, err := tx.ExecContext(ctx,
			`UPDATE credits SET name = ?, frequency_label = ?, frequency = ?, amount_cents = ?, currency = ?,
				category = ?, renewal_date = ?, expiration_date = ?, is_used = ?, used_at = ?,
				description = ?, terms = ?
			 WHERE id = ?`,
			c.Name, c.FrequencyLabel, string(c.Frequency), toCents(c.Amount), c.Currency,
			c.Category, encodeTime(c.RenewalDate), encodeTime(c.ExpirationDate), c.IsUsed, encodeOptionalTime(c.UsedAt),
			c.Description, c.Terms, c.ID.String(),
		)
		if err != nil {
			return persistErr("update credit", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrCreditNotFound, c.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit tx", err)
	}
	return nil
}
