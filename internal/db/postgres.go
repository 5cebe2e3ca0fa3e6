package loyalty

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	interf "github.com/glkeru/washloyalty/internal/interfaces"
	model "github.com/glkeru/washloyalty/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	merchantColumns = []string{"id", "name", "status", "subscription_expires_at", "washes_required",
		"reward_validity_days", "card_validity_days", "anti_fraud_same_day", "timezone", "paused",
		"paused_until", "total_washes", "total_revenue", "created_at"}
	customerColumns = []string{"id", "code", "name", "phone", "total_washes", "total_spent",
		"rewards_earned", "rewards_claimed", "last_wash_at", "created_at"}
	progressColumns = []string{"id", "customer_id", "merchant_id", "washes_completed", "washes_required",
		"expires_at", "active", "paused", "paused_until", "reward_earned", "reward_earned_at",
		"reward_code", "reward_claimed", "reward_claimed_at", "created_at", "updated_at"}
	rewardColumns = []string{"id", "customer_id", "merchant_id", "progress_id", "code", "status",
		"expires_at", "claimed_at", "claimed_by", "created_at"}
	notificationColumns = []string{"id", "type", "merchant_id", "customer_id", "reward_code",
		"completed", "required", "created_at", "sent_at"}
)

// общий интерфейс пула и транзакции
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresDB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresDB(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresDB{pool, logger}, nil
}

// Migrate создает таблицы, если их нет
func (p *PostgresDB) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresDB) Close() {
	p.pool.Close()
}

// InTx - одна транзакция на операцию движка; строки карточки и награды блокируются FOR UPDATE
func (p *PostgresDB) InTx(ctx context.Context, fn func(ctx context.Context, tx interf.Tx) error) (err error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &pgTx{tx, p.logger}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// ошибки Postgres -> ошибки хранилища
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "customers_code_key", "rewards_code_key":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrDuplicateCode)
		}
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrConflict)
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%s: %w", pgErr.Code, model.ErrConflict)
	}
	return err
}

func execBuilder(ctx context.Context, q querier, logger *zap.Logger, b sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		logger.Error("SQL error",
			zap.Error(err),
			zap.String("query", sql),
			zap.Any("args", args),
		)
		return pgconn.CommandTag{}, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		logger.Error("SQL error",
			zap.Error(err),
			zap.String("query", sql),
			zap.Any("args", args),
		)
		return tag, mapError(err)
	}
	return tag, nil
}

func queryRow(ctx context.Context, q querier, logger *zap.Logger, b sq.Sqlizer) (pgx.Row, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		logger.Error("SQL error",
			zap.Error(err),
			zap.String("query", sql),
			zap.Any("args", args),
		)
		return nil, err
	}
	return q.QueryRow(ctx, sql, args...), nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if ts.Status != pgtype.Present {
		return nil
	}
	t := ts.Time
	return &t
}

func textValue(t pgtype.Text) string {
	if t.Status != pgtype.Present {
		return ""
	}
	return t.String
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func noRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return mapError(err)
}

func scanMerchant(row pgx.Row) (*model.Merchant, error) {
	var m model.Merchant
	var status string
	var expires, pausedUntil pgtype.Timestamptz
	err := row.Scan(&m.ID, &m.Name, &status, &expires, &m.Policy.WashesRequired,
		&m.Policy.RewardValidityDays, &m.Policy.CardValidityDays, &m.Policy.AntiFraudSameDay,
		&m.Policy.Timezone, &m.Paused, &pausedUntil, &m.TotalWashes, &m.TotalRevenue, &m.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	m.Status = model.SubscriptionStatus(status)
	m.SubscriptionExpiresAt = timePtr(expires)
	m.PausedUntil = timePtr(pausedUntil)
	return &m, nil
}

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	var lastWash pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Phone, &c.TotalWashes, &c.TotalSpent,
		&c.RewardsEarned, &c.RewardsClaimed, &lastWash, &c.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	c.LastWashAt = timePtr(lastWash)
	return &c, nil
}

func scanProgress(row pgx.Row) (*model.ProgressRecord, error) {
	var p model.ProgressRecord
	var pausedUntil, earnedAt, claimedAt pgtype.Timestamptz
	var code pgtype.Text
	err := row.Scan(&p.ID, &p.CustomerID, &p.MerchantID, &p.WashesCompleted, &p.WashesRequired,
		&p.ExpiresAt, &p.Active, &p.Paused, &pausedUntil, &p.RewardEarned, &earnedAt,
		&code, &p.RewardClaimed, &claimedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	p.PausedUntil = timePtr(pausedUntil)
	p.RewardEarnedAt = timePtr(earnedAt)
	p.RewardCode = textValue(code)
	p.RewardClaimedAt = timePtr(claimedAt)
	return &p, nil
}

func scanReward(row pgx.Row) (*model.Reward, error) {
	var r model.Reward
	var status string
	var claimedAt pgtype.Timestamptz
	var claimedBy pgtype.Text
	err := row.Scan(&r.ID, &r.CustomerID, &r.MerchantID, &r.ProgressID, &r.Code, &status,
		&r.ExpiresAt, &claimedAt, &claimedBy, &r.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	r.Status = model.RewardStatus(status)
	r.ClaimedAt = timePtr(claimedAt)
	r.ClaimedBy = textValue(claimedBy)
	return &r, nil
}

// запросы

func selectMerchant(id uuid.UUID) sq.SelectBuilder {
	return psql.Select(merchantColumns...).From("merchants").Where(sq.Eq{"id": id})
}

func selectCustomer(where sq.Eq) sq.SelectBuilder {
	return psql.Select(customerColumns...).From("customers").Where(where)
}

func selectProgress(customerID, merchantID uuid.UUID) sq.SelectBuilder {
	return psql.Select(progressColumns...).From("progress").
		Where(sq.Eq{"customer_id": customerID, "merchant_id": merchantID})
}

func selectReward(code string) sq.SelectBuilder {
	return psql.Select(rewardColumns...).From("rewards").Where(sq.Eq{"code": code})
}

func washExistsQuery(customerID, merchantID uuid.UUID, from, to time.Time) sq.SelectBuilder {
	return psql.Select("1").From("wash_events").
		Where(sq.Eq{"customer_id": customerID, "merchant_id": merchantID}).
		Where(sq.GtOrEq{"created_at": from}).
		Where(sq.Lt{"created_at": to}).
		Limit(1).
		Prefix("SELECT EXISTS (").
		Suffix(")")
}

func claimRewardQuery(id uuid.UUID, claimedBy string, at time.Time) sq.UpdateBuilder {
	return psql.Update("rewards").
		Set("status", string(model.RewardClaimed)).
		Set("claimed_at", at).
		Set("claimed_by", claimedBy).
		Where(sq.Eq{"id": id, "status": string(model.RewardAvailable)}).
		Where(sq.Gt{"expires_at": at})
}

func expireRewardsQuery(where sq.Eq, now time.Time) sq.UpdateBuilder {
	where["status"] = string(model.RewardAvailable)
	return psql.Update("rewards").
		Set("status", string(model.RewardExpired)).
		Where(where).
		Where(sq.LtOrEq{"expires_at": now})
}

// чтение без блокировок

func (p *PostgresDB) GetMerchant(ctx context.Context, id uuid.UUID) (*model.Merchant, error) {
	row, err := queryRow(ctx, p.pool, p.logger, selectMerchant(id))
	if err != nil {
		return nil, err
	}
	return scanMerchant(row)
}

func (p *PostgresDB) GetCustomerByCode(ctx context.Context, code string) (*model.Customer, error) {
	row, err := queryRow(ctx, p.pool, p.logger, selectCustomer(sq.Eq{"code": code}))
	if err != nil {
		return nil, err
	}
	return scanCustomer(row)
}

func (p *PostgresDB) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	row, err := queryRow(ctx, p.pool, p.logger, selectCustomer(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanCustomer(row)
}

func (p *PostgresDB) GetProgress(ctx context.Context, customerID, merchantID uuid.UUID) (*model.ProgressRecord, error) {
	row, err := queryRow(ctx, p.pool, p.logger, selectProgress(customerID, merchantID))
	if err != nil {
		return nil, err
	}
	return scanProgress(row)
}

func (p *PostgresDB) GetRewardByCode(ctx context.Context, code string) (*model.Reward, error) {
	row, err := queryRow(ctx, p.pool, p.logger, selectReward(code))
	if err != nil {
		return nil, err
	}
	return scanReward(row)
}

func (p *PostgresDB) AvailableRewards(ctx context.Context, customerID, merchantID uuid.UUID, now time.Time) ([]model.Reward, error) {
	sql, args, err := psql.Select(rewardColumns...).From("rewards").
		Where(sq.Eq{"customer_id": customerID, "merchant_id": merchantID, "status": string(model.RewardAvailable)}).
		Where(sq.Gt{"expires_at": now}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rewards []model.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (p *PostgresDB) MerchantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, "SELECT id FROM merchants")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresDB) ExpireReward(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := execBuilder(ctx, p.pool, p.logger, expireRewardsQuery(sq.Eq{"id": id}, now))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresDB) ExpireOverdueRewards(ctx context.Context, merchantID uuid.UUID, now time.Time) (int64, error) {
	tag, err := execBuilder(ctx, p.pool, p.logger, expireRewardsQuery(sq.Eq{"merchant_id": merchantID}, now))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresDB) PendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	b := psql.Select(notificationColumns...).From("notifications").
		Where(sq.Eq{"sent_at": nil}).
		OrderBy("created_at")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var notes []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		var code pgtype.Text
		var sentAt pgtype.Timestamptz
		if err := rows.Scan(&n.ID, &typ, &n.MerchantID, &n.CustomerID, &code, &n.Completed,
			&n.Required, &n.CreatedAt, &sentAt); err != nil {
			return nil, err
		}
		n.Type = model.NotificationType(typ)
		n.RewardCode = textValue(code)
		n.SentAt = timePtr(sentAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (p *PostgresDB) MarkNotificationsSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := execBuilder(ctx, p.pool, p.logger, psql.Update("notifications").
		Set("sent_at", at).
		Where(sq.Eq{"id": ids}))
	return err
}

// pgTx - операции внутри транзакции
type pgTx struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (t *pgTx) exec(ctx context.Context, b sq.Sqlizer) (pgconn.CommandTag, error) {
	return execBuilder(ctx, t.tx, t.logger, b)
}

// обновление одной строки, 0 строк - не найдена
func (t *pgTx) execOne(ctx context.Context, b sq.Sqlizer) error {
	tag, err := t.exec(ctx, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgTx) GetMerchant(ctx context.Context, id uuid.UUID) (*model.Merchant, error) {
	row, err := queryRow(ctx, t.tx, t.logger, selectMerchant(id))
	if err != nil {
		return nil, err
	}
	return scanMerchant(row)
}

func (t *pgTx) InsertMerchant(ctx context.Context, m *model.Merchant) error {
	_, err := t.exec(ctx, psql.Insert("merchants").
		Columns(merchantColumns...).
		Values(m.ID, m.Name, string(m.Status), m.SubscriptionExpiresAt, m.Policy.WashesRequired,
			m.Policy.RewardValidityDays, m.Policy.CardValidityDays, m.Policy.AntiFraudSameDay,
			m.Policy.Timezone, m.Paused, m.PausedUntil, m.TotalWashes, m.TotalRevenue, m.CreatedAt))
	return err
}

func (t *pgTx) ExpireMerchant(ctx context.Context, id uuid.UUID) error {
	_, err := t.exec(ctx, psql.Update("merchants").
		Set("status", string(model.SubscriptionExpired)).
		Where(sq.Eq{"id": id, "status": string(model.SubscriptionActive)}))
	return err
}

func (t *pgTx) SetMerchantPause(ctx context.Context, id uuid.UUID, paused bool, until *time.Time) error {
	return t.execOne(ctx, psql.Update("merchants").
		Set("paused", paused).
		Set("paused_until", until).
		Where(sq.Eq{"id": id}))
}

func (t *pgTx) AddMerchantWash(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	return t.execOne(ctx, psql.Update("merchants").
		Set("total_washes", sq.Expr("total_washes + 1")).
		Set("total_revenue", sq.Expr("total_revenue + ?", price)).
		Where(sq.Eq{"id": id}))
}

func (t *pgTx) InsertCustomer(ctx context.Context, c *model.Customer) error {
	_, err := t.exec(ctx, psql.Insert("customers").
		Columns(customerColumns...).
		Values(c.ID, c.Code, c.Name, c.Phone, c.TotalWashes, c.TotalSpent,
			c.RewardsEarned, c.RewardsClaimed, c.LastWashAt, c.CreatedAt))
	return err
}

func (t *pgTx) GetCustomerByCode(ctx context.Context, code string) (*model.Customer, error) {
	row, err := queryRow(ctx, t.tx, t.logger, selectCustomer(sq.Eq{"code": code}))
	if err != nil {
		return nil, err
	}
	return scanCustomer(row)
}

func (t *pgTx) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	row, err := queryRow(ctx, t.tx, t.logger, selectCustomer(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanCustomer(row)
}

func (t *pgTx) SetCustomerCode(ctx context.Context, id uuid.UUID, code string) error {
	return t.execOne(ctx, psql.Update("customers").Set("code", code).Where(sq.Eq{"id": id}))
}

func (t *pgTx) AddCustomerWash(ctx context.Context, id uuid.UUID, price decimal.Decimal, at time.Time) error {
	return t.execOne(ctx, psql.Update("customers").
		Set("total_washes", sq.Expr("total_washes + 1")).
		Set("total_spent", sq.Expr("total_spent + ?", price)).
		Set("last_wash_at", at).
		Where(sq.Eq{"id": id}))
}

func (t *pgTx) AddCustomerRewardEarned(ctx context.Context, id uuid.UUID) error {
	return t.execOne(ctx, psql.Update("customers").
		Set("rewards_earned", sq.Expr("rewards_earned + 1")).
		Where(sq.Eq{"id": id}))
}

func (t *pgTx) AddCustomerRewardClaimed(ctx context.Context, id uuid.UUID) error {
	return t.execOne(ctx, psql.Update("customers").
		Set("rewards_claimed", sq.Expr("rewards_claimed + 1")).
		Where(sq.Eq{"id": id}))
}

// блокируем строку карточки
func (t *pgTx) LockProgress(ctx context.Context, customerID, merchantID uuid.UUID) (*model.ProgressRecord, error) {
	row, err := queryRow(ctx, t.tx, t.logger, selectProgress(customerID, merchantID).Suffix("FOR UPDATE"))
	if err != nil {
		return nil, err
	}
	return scanProgress(row)
}

func (t *pgTx) InsertProgress(ctx context.Context, p *model.ProgressRecord) error {
	_, err := t.exec(ctx, psql.Insert("progress").
		Columns(progressColumns...).
		Values(p.ID, p.CustomerID, p.MerchantID, p.WashesCompleted, p.WashesRequired,
			p.ExpiresAt, p.Active, p.Paused, p.PausedUntil, p.RewardEarned, p.RewardEarnedAt,
			nullString(p.RewardCode), p.RewardClaimed, p.RewardClaimedAt, p.CreatedAt, p.UpdatedAt))
	return err
}

func (t *pgTx) UpdateProgress(ctx context.Context, p *model.ProgressRecord) error {
	return t.execOne(ctx, psql.Update("progress").
		SetMap(map[string]any{
			"washes_completed":  p.WashesCompleted,
			"washes_required":   p.WashesRequired,
			"expires_at":        p.ExpiresAt,
			"active":            p.Active,
			"paused":            p.Paused,
			"paused_until":      p.PausedUntil,
			"reward_earned":     p.RewardEarned,
			"reward_earned_at":  p.RewardEarnedAt,
			"reward_code":       nullString(p.RewardCode),
			"reward_claimed":    p.RewardClaimed,
			"reward_claimed_at": p.RewardClaimedAt,
			"updated_at":        p.UpdatedAt,
		}).
		Where(sq.Eq{"id": p.ID}))
}

func (t *pgTx) MarkProgressRewardClaimed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return t.execOne(ctx, psql.Update("progress").
		Set("reward_claimed", true).
		Set("reward_claimed_at", at).
		Where(sq.Eq{"id": id}))
}

func (t *pgTx) WashExistsBetween(ctx context.Context, customerID, merchantID uuid.UUID, from, to time.Time) (bool, error) {
	row, err := queryRow(ctx, t.tx, t.logger, washExistsQuery(customerID, merchantID, from, to))
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t *pgTx) InsertWash(ctx context.Context, w *model.WashEvent) error {
	_, err := t.exec(ctx, psql.Insert("wash_events").
		Columns("id", "customer_id", "merchant_id", "service", "price", "rating", "comment", "created_at").
		Values(w.ID, w.CustomerID, w.MerchantID, w.Service, w.Price, w.Rating, nullString(w.Comment), w.CreatedAt))
	return err
}

// вставка награды в savepoint: конфликт кода не должен ломать всю транзакцию
func (t *pgTx) InsertReward(ctx context.Context, r *model.Reward) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	_, err = execBuilder(ctx, sp, t.logger, psql.Insert("rewards").
		Columns(rewardColumns...).
		Values(r.ID, r.CustomerID, r.MerchantID, r.ProgressID, r.Code, string(r.Status),
			r.ExpiresAt, r.ClaimedAt, nullString(r.ClaimedBy), r.CreatedAt))
	if err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return mapError(sp.Commit(ctx))
}

// блокируем строку награды
func (t *pgTx) LockReward(ctx context.Context, code string) (*model.Reward, error) {
	row, err := queryRow(ctx, t.tx, t.logger, selectReward(code).Suffix("FOR UPDATE"))
	if err != nil {
		return nil, err
	}
	return scanReward(row)
}

func (t *pgTx) ClaimReward(ctx context.Context, id uuid.UUID, claimedBy string, at time.Time) (bool, error) {
	tag, err := t.exec(ctx, claimRewardQuery(id, claimedBy, at))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ExpireReward(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := t.exec(ctx, expireRewardsQuery(sq.Eq{"id": id}, now))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) EnqueueNotification(ctx context.Context, n *model.Notification) error {
	_, err := t.exec(ctx, psql.Insert("notifications").
		Columns(notificationColumns...).
		Values(n.ID, string(n.Type), n.MerchantID, n.CustomerID, nullString(n.RewardCode),
			n.Completed, n.Required, n.CreatedAt, n.SentAt))
	return err
}
