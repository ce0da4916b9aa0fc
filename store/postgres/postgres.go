/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore on a pgx connection pool. Unlike the SQLite
  store there is no process-wide lock: concurrent transactions serialize
  only on the rows they touch.

ROW LOCKS:
  Inside WithTx the read that precedes a write takes the row lock:
  - LockOrder:  SELECT ... FROM orders ... FOR UPDATE
  - GetSlot:    SELECT ... FROM order_slots ... FOR UPDATE
  - GetWallet:  SELECT ... FROM delivery_wallets ... FOR UPDATE
  Every slot and wallet write still compares-and-swaps on version, so a
  caller that skipped the locked read gets ErrConcurrentModification
  instead of a lost update.

CONSTRAINTS AS ERRORS:
  unique_violation (23505) on
  - wallet_entries_idempotency_key → ErrDuplicateIdempotencyKey
  - referral_commissions_pair      → ErrDuplicateCommission
  serialization_failure / deadlock_detected are StoreErrors (retryable).
  A failed COMMIT is an ambiguous StoreError.

NUMERIC COLUMNS:
  Money travels as text in both directions ($n with a string argument,
  col::text in SELECT lists), so no decimal codec registration is needed.

MIGRATIONS:
  migrations/*.sql are embedded and applied in name order by Migrate.

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/sqlite/sqlite.go: Single-writer SQLite implementation
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/generic"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements generic.TxStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// New connects to dsn and applies migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{pool: pool, q: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies every embedded migration in name order. Migrations are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{pool: s.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &generic.StoreError{Op: "commit", Err: err, Ambiguous: true}
	}
	return nil
}

// forUpdate returns the row-lock suffix when running inside a transaction.
func (s *Store) forUpdate() string {
	if s.inTx {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// ORDERS & SLOTS
// =============================================================================

func (s *Store) SaveOrder(ctx context.Context, o generic.Order) error {
	return s.withTx(ctx, func(tx *Store) error {
		_, err := tx.q.Exec(ctx, `
			INSERT INTO orders
			(id, order_number, customer_id, status, service_type, total_amount,
			 panchayat_id, ward_number, referred_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				order_number = EXCLUDED.order_number,
				customer_id = EXCLUDED.customer_id,
				status = EXCLUDED.status,
				service_type = EXCLUDED.service_type,
				total_amount = EXCLUDED.total_amount,
				panchayat_id = EXCLUDED.panchayat_id,
				ward_number = EXCLUDED.ward_number,
				referred_by = EXCLUDED.referred_by,
				updated_at = EXCLUDED.updated_at`,
			string(o.ID), o.OrderNumber, string(o.CustomerID), string(o.Status), string(o.ServiceType),
			o.TotalAmount.String(), strPtr(o.PanchayatID), o.WardNumber, strPtr(o.ReferredBy),
			o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return storeErr("save order", err)
		}

		if _, err := tx.q.Exec(ctx, "DELETE FROM order_items WHERE order_id = $1", string(o.ID)); err != nil {
			return storeErr("save order items", err)
		}
		for i, it := range o.Items {
			_, err := tx.q.Exec(ctx, `
				INSERT INTO order_items (order_id, position, item_id, quantity, unit_price, total_price)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				string(o.ID), i, string(it.ItemID), it.Quantity, it.UnitPrice.String(), it.TotalPrice.String())
			if err != nil {
				return storeErr("save order items", err)
			}
		}

		for _, role := range generic.Roles {
			_, err := tx.q.Exec(ctx, `
				INSERT INTO order_slots (order_id, role, status, version)
				VALUES ($1, $2, $3, 0)
				ON CONFLICT (order_id, role) DO NOTHING`,
				string(o.ID), string(role), string(generic.SlotUnassigned))
			if err != nil {
				return storeErr("save order slots", err)
			}
		}
		return nil
	})
}

const orderColumns = `id, order_number, customer_id, status, service_type, total_amount::text,
	panchayat_id, ward_number, referred_by, created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	return s.getOrder(ctx, id, "")
}

// LockOrder takes the order row lock for the rest of the transaction.
func (s *Store) LockOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	return s.getOrder(ctx, id, s.forUpdate())
}

func (s *Store) getOrder(ctx context.Context, id generic.OrderID, lock string) (*generic.Order, error) {
	row := s.q.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1"+lock, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("order", id)
	}
	if err != nil {
		return nil, storeErr("get order", err)
	}
	if err := s.fillOrder(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) fillOrder(ctx context.Context, o *generic.Order) error {
	rows, err := s.q.Query(ctx, `
		SELECT item_id, quantity, unit_price::text, total_price::text
		FROM order_items WHERE order_id = $1 ORDER BY position`, string(o.ID))
	if err != nil {
		return storeErr("load order items", err)
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var (
			itemID, unit, total string
			qty                 int
		)
		if err := rows.Scan(&itemID, &qty, &unit, &total); err != nil {
			return storeErr("scan order item", err)
		}
		o.Items = append(o.Items, generic.OrderItem{
			ItemID:     generic.ItemID(itemID),
			Quantity:   qty,
			UnitPrice:  generic.MustParseMoney(unit),
			TotalPrice: generic.MustParseMoney(total),
		})
	}
	if err := rows.Err(); err != nil {
		return storeErr("load order items", err)
	}

	slots, err := s.querySlots(ctx, "WHERE order_id = $1", "", string(o.ID))
	if err != nil {
		return err
	}
	o.Slots = make(map[generic.Role]generic.AssignmentSlot, len(slots))
	for _, slot := range slots {
		o.Slots[slot.Role] = slot
	}
	return nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id generic.OrderID, status generic.OrderStatus) error {
	tag, err := s.q.Exec(ctx,
		"UPDATE orders SET status = $1, updated_at = now() WHERE id = $2", string(status), string(id))
	if err != nil {
		return storeErr("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.NotFound("order", id)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, f generic.OrderFilter) ([]generic.Order, error) {
	var w where
	if f.Range.Start != nil {
		w.add("created_at >= %s", *f.Range.Start)
	}
	if f.Range.End != nil {
		w.add("created_at <= %s", *f.Range.End)
	}
	if f.PanchayatID != nil {
		w.add("panchayat_id = %s", string(*f.PanchayatID))
	}
	if f.ServiceType != "" {
		w.add("service_type = %s", string(f.ServiceType))
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}

	rows, err := s.q.Query(ctx, "SELECT "+orderColumns+" FROM orders "+w.clause()+" ORDER BY created_at, id", w.args...)
	if err != nil {
		return nil, storeErr("list orders", err)
	}
	var orders []generic.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr("scan order", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("list orders", err)
	}

	for i := range orders {
		if err := s.fillOrder(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) GetSlot(ctx context.Context, orderID generic.OrderID, role generic.Role) (*generic.AssignmentSlot, error) {
	slots, err := s.querySlots(ctx, "WHERE order_id = $1 AND role = $2", s.forUpdate(), string(orderID), string(role))
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, generic.NotFound("order", orderID)
	}
	return &slots[0], nil
}

func (s *Store) SaveSlot(ctx context.Context, slot generic.AssignmentSlot) (generic.AssignmentSlot, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE order_slots
		SET fulfiller_id = $1, status = $2, assigned_at = $3, responded_at = $4, version = version + 1
		WHERE order_id = $5 AND role = $6 AND version = $7`,
		strPtr(slot.FulfillerID), string(slot.Status), slot.AssignedAt, slot.RespondedAt,
		string(slot.OrderID), string(slot.Role), slot.Version,
	)
	if err != nil {
		return generic.AssignmentSlot{}, storeErr("save slot", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.q.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM order_slots WHERE order_id = $1 AND role = $2)",
			string(slot.OrderID), string(slot.Role)).Scan(&exists)
		if err != nil {
			return generic.AssignmentSlot{}, storeErr("save slot", err)
		}
		if !exists {
			return generic.AssignmentSlot{}, generic.NotFound("order", slot.OrderID)
		}
		return generic.AssignmentSlot{}, generic.ErrConcurrentModification
	}
	slot.Version++
	return slot, nil
}

func (s *Store) ListSlots(ctx context.Context, role generic.Role, status generic.SlotStatus) ([]generic.AssignmentSlot, error) {
	var w where
	if role != "" {
		w.add("role = %s", string(role))
	}
	if status != "" {
		w.add("status = %s", string(status))
	}
	return s.querySlots(ctx, w.clause(), "", w.args...)
}

func (s *Store) querySlots(ctx context.Context, clause, lock string, args ...any) ([]generic.AssignmentSlot, error) {
	rows, err := s.q.Query(ctx, `
		SELECT order_id, role, fulfiller_id, status, assigned_at, responded_at, version
		FROM order_slots `+clause+` ORDER BY order_id, role`+lock, args...)
	if err != nil {
		return nil, storeErr("query slots", err)
	}
	defer rows.Close()

	var slots []generic.AssignmentSlot
	for rows.Next() {
		var (
			slot                  generic.AssignmentSlot
			orderID, role, status string
			fulfillerID           *string
		)
		if err := rows.Scan(&orderID, &role, &fulfillerID, &status,
			&slot.AssignedAt, &slot.RespondedAt, &slot.Version); err != nil {
			return nil, storeErr("scan slot", err)
		}
		slot.OrderID = generic.OrderID(orderID)
		slot.Role = generic.Role(role)
		slot.Status = generic.SlotStatus(status)
		slot.FulfillerID = idPtr[generic.FulfillerID](fulfillerID)
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *Store) AppendAssignment(ctx context.Context, a generic.Assignment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO assignments (id, order_id, role, fulfiller_id, outcome, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.ID), string(a.OrderID), string(a.Role), string(a.FulfillerID), string(a.Outcome), a.Reason, a.At)
	if err != nil {
		return storeErr("append assignment", err)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, f generic.AssignmentFilter) ([]generic.Assignment, error) {
	var w where
	if f.OrderID != "" {
		w.add("order_id = %s", string(f.OrderID))
	}
	if f.Role != "" {
		w.add("role = %s", string(f.Role))
	}
	if f.FulfillerID != "" {
		w.add("fulfiller_id = %s", string(f.FulfillerID))
	}
	if f.Outcome != "" {
		w.add("outcome = %s", string(f.Outcome))
	}

	rows, err := s.q.Query(ctx,
		"SELECT id, order_id, role, fulfiller_id, outcome, reason, at FROM assignments "+w.clause()+" ORDER BY seq",
		w.args...)
	if err != nil {
		return nil, storeErr("list assignments", err)
	}
	defer rows.Close()

	var result []generic.Assignment
	for rows.Next() {
		var (
			a                                         generic.Assignment
			id, orderID, role, fulfillerID, outcome string
		)
		if err := rows.Scan(&id, &orderID, &role, &fulfillerID, &outcome, &a.Reason, &a.At); err != nil {
			return nil, storeErr("scan assignment", err)
		}
		a.ID = generic.AssignmentID(id)
		a.OrderID = generic.OrderID(orderID)
		a.Role = generic.Role(role)
		a.FulfillerID = generic.FulfillerID(fulfillerID)
		a.Outcome = generic.Outcome(outcome)
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// WALLETS
// =============================================================================

func (s *Store) GetWallet(ctx context.Context, staffID generic.FulfillerID) (*generic.DeliveryWallet, error) {
	wallets, err := s.queryWallets(ctx, "WHERE staff_id = $1", s.forUpdate(), string(staffID))
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, generic.NotFound("wallet", staffID)
	}
	return &wallets[0], nil
}

func (s *Store) SaveWallet(ctx context.Context, w generic.DeliveryWallet) (generic.DeliveryWallet, error) {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now().UTC()
	}

	if w.Version == 0 {
		_, err := s.q.Exec(ctx, `
			INSERT INTO delivery_wallets (staff_id, collected_amount, job_earnings, total_settled, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)`,
			string(w.StaffID), w.CollectedAmount.String(), w.JobEarnings.String(), w.TotalSettled.String(), w.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "") {
				return generic.DeliveryWallet{}, generic.ErrConcurrentModification
			}
			return generic.DeliveryWallet{}, storeErr("insert wallet", err)
		}
		w.Version = 1
		return w, nil
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE delivery_wallets
		SET collected_amount = $1, job_earnings = $2, total_settled = $3, version = version + 1, updated_at = $4
		WHERE staff_id = $5 AND version = $6`,
		w.CollectedAmount.String(), w.JobEarnings.String(), w.TotalSettled.String(), w.UpdatedAt,
		string(w.StaffID), w.Version)
	if err != nil {
		return generic.DeliveryWallet{}, storeErr("save wallet", err)
	}
	if tag.RowsAffected() == 0 {
		return generic.DeliveryWallet{}, generic.ErrConcurrentModification
	}
	w.Version++
	return w, nil
}

func (s *Store) ListWallets(ctx context.Context) ([]generic.DeliveryWallet, error) {
	return s.queryWallets(ctx, "", "")
}

func (s *Store) queryWallets(ctx context.Context, clause, lock string, args ...any) ([]generic.DeliveryWallet, error) {
	rows, err := s.q.Query(ctx, `
		SELECT staff_id, collected_amount::text, job_earnings::text, total_settled::text, version, updated_at
		FROM delivery_wallets `+clause+` ORDER BY staff_id`+lock, args...)
	if err != nil {
		return nil, storeErr("query wallets", err)
	}
	defer rows.Close()

	var wallets []generic.DeliveryWallet
	for rows.Next() {
		var (
			w                                   generic.DeliveryWallet
			staffID, collected, earned, settled string
		)
		if err := rows.Scan(&staffID, &collected, &earned, &settled, &w.Version, &w.UpdatedAt); err != nil {
			return nil, storeErr("scan wallet", err)
		}
		w.StaffID = generic.FulfillerID(staffID)
		w.CollectedAmount = generic.MustParseMoney(collected)
		w.JobEarnings = generic.MustParseMoney(earned)
		w.TotalSettled = generic.MustParseMoney(settled)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (s *Store) AppendWalletEntry(ctx context.Context, e generic.WalletEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO wallet_entries
		(id, staff_id, order_id, kind, collected_delta, earnings_delta, settled_delta, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(e.ID), string(e.StaffID), strPtr(e.OrderID), string(e.Kind),
		e.CollectedDelta.String(), e.EarningsDelta.String(), e.SettledDelta.String(),
		e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "wallet_entries_idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return storeErr("append wallet entry", err)
	}
	return nil
}

func (s *Store) FindWalletEntry(ctx context.Context, idempotencyKey string) (*generic.WalletEntry, error) {
	entries, err := s.queryEntries(ctx, "WHERE idempotency_key = $1", idempotencyKey)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) ListWalletEntries(ctx context.Context, staffID generic.FulfillerID) ([]generic.WalletEntry, error) {
	if staffID == "" {
		return s.queryEntries(ctx, "")
	}
	return s.queryEntries(ctx, "WHERE staff_id = $1", string(staffID))
}

func (s *Store) queryEntries(ctx context.Context, clause string, args ...any) ([]generic.WalletEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, staff_id, order_id, kind, collected_delta::text, earnings_delta::text, settled_delta::text,
		       idempotency_key, created_at
		FROM wallet_entries `+clause+` ORDER BY seq`, args...)
	if err != nil {
		return nil, storeErr("query wallet entries", err)
	}
	defer rows.Close()

	var entries []generic.WalletEntry
	for rows.Next() {
		var (
			e                                       generic.WalletEntry
			id, staffID, kind                       string
			orderID                                 *string
			collected, earned, settled             string
		)
		if err := rows.Scan(&id, &staffID, &orderID, &kind, &collected, &earned, &settled,
			&e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, storeErr("scan wallet entry", err)
		}
		e.ID = generic.WalletEntryID(id)
		e.StaffID = generic.FulfillerID(staffID)
		e.OrderID = idPtr[generic.OrderID](orderID)
		e.Kind = generic.EntryKind(kind)
		e.CollectedDelta = generic.MustParseMoney(collected)
		e.EarningsDelta = generic.MustParseMoney(earned)
		e.SettledDelta = generic.MustParseMoney(settled)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (s *Store) InsertCommission(ctx context.Context, c generic.ReferralCommission) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO referral_commissions
		(id, referrer_id, order_id, commission_percent, commission_amount, status, created_at, approved_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(c.ID), string(c.ReferrerID), string(c.OrderID), c.CommissionPercent.String(),
		c.CommissionAmount.String(), string(c.Status), c.CreatedAt, c.ApprovedAt, c.PaidAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return generic.ErrDuplicateCommission
		}
		return storeErr("insert commission", err)
	}
	return nil
}

func (s *Store) GetCommission(ctx context.Context, id generic.CommissionID) (*generic.ReferralCommission, error) {
	list, err := s.queryCommissions(ctx, "WHERE id = $1", string(id))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, generic.NotFound("commission", id)
	}
	return &list[0], nil
}

func (s *Store) FindCommission(ctx context.Context, orderID generic.OrderID, referrerID generic.UserID) (*generic.ReferralCommission, error) {
	list, err := s.queryCommissions(ctx, "WHERE order_id = $1 AND referrer_id = $2", string(orderID), string(referrerID))
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) UpdateCommissionStatus(ctx context.Context, c generic.ReferralCommission, from generic.CommissionStatus) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE referral_commissions
		SET status = $1, approved_at = $2, paid_at = $3
		WHERE id = $4 AND status = $5`,
		string(c.Status), c.ApprovedAt, c.PaidAt, string(c.ID), string(from))
	if err != nil {
		return storeErr("update commission", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.q.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM referral_commissions WHERE id = $1)", string(c.ID)).Scan(&exists); err != nil {
			return storeErr("update commission", err)
		}
		if !exists {
			return generic.NotFound("commission", c.ID)
		}
		return generic.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ListCommissions(ctx context.Context, f generic.CommissionFilter) ([]generic.ReferralCommission, error) {
	var w where
	if f.ReferrerID != "" {
		w.add("referrer_id = %s", string(f.ReferrerID))
	}
	if f.OrderID != "" {
		w.add("order_id = %s", string(f.OrderID))
	}
	if f.Status != "" {
		w.add("status = %s", string(f.Status))
	}
	return s.queryCommissions(ctx, w.clause(), w.args...)
}

func (s *Store) queryCommissions(ctx context.Context, clause string, args ...any) ([]generic.ReferralCommission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, referrer_id, order_id, commission_percent::text, commission_amount::text, status,
		       created_at, approved_at, paid_at
		FROM referral_commissions `+clause+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, storeErr("query commissions", err)
	}
	defer rows.Close()

	var list []generic.ReferralCommission
	for rows.Next() {
		var (
			c                                   generic.ReferralCommission
			id, referrerID, orderID, status     string
			percent, amount                     string
		)
		if err := rows.Scan(&id, &referrerID, &orderID, &percent, &amount, &status,
			&c.CreatedAt, &c.ApprovedAt, &c.PaidAt); err != nil {
			return nil, storeErr("scan commission", err)
		}
		c.ID = generic.CommissionID(id)
		c.ReferrerID = generic.UserID(referrerID)
		c.OrderID = generic.OrderID(orderID)
		c.Status = generic.CommissionStatus(status)
		c.CommissionPercent = decimal.RequireFromString(percent)
		c.CommissionAmount = generic.MustParseMoney(amount)
		list = append(list, c)
	}
	return list, rows.Err()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item generic.CatalogItem) error {
	margin := item.Margin.Normalized()
	_, err := s.q.Exec(ctx, `
		INSERT INTO catalog_items (id, name, base_price, margin_type, margin_value, service_types, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			base_price = EXCLUDED.base_price,
			margin_type = EXCLUDED.margin_type,
			margin_value = EXCLUDED.margin_value,
			service_types = EXCLUDED.service_types,
			is_available = EXCLUDED.is_available`,
		string(item.ID), item.Name, item.BasePrice.String(), string(margin.Type), margin.Value.String(),
		serviceTypesToText(item.ServiceTypes), item.IsAvailable)
	if err != nil {
		return storeErr("save item", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id generic.ItemID) (*generic.CatalogItem, error) {
	var (
		item                                generic.CatalogItem
		itemID, base, marginType, marginVal string
		types                               []string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, name, base_price::text, margin_type, margin_value::text, service_types, is_available
		FROM catalog_items WHERE id = $1`, string(id),
	).Scan(&itemID, &item.Name, &base, &marginType, &marginVal, &types, &item.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("item", id)
	}
	if err != nil {
		return nil, storeErr("get item", err)
	}
	item.ID = generic.ItemID(itemID)
	item.BasePrice = generic.MustParseMoney(base)
	item.Margin = generic.MarginRule{Type: generic.MarginType(marginType), Value: decimal.RequireFromString(marginVal)}
	item.ServiceTypes = serviceTypesFromText(types)
	return &item, nil
}

func (s *Store) GetOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) (*generic.FulfillerOverride, error) {
	o := generic.FulfillerOverride{FulfillerID: fulfillerID, ItemID: itemID}
	var price string
	err := s.q.QueryRow(ctx, `
		SELECT custom_price::text, updated_at FROM fulfiller_overrides
		WHERE fulfiller_id = $1 AND item_id = $2`, string(fulfillerID), string(itemID),
	).Scan(&price, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get override", err)
	}
	o.CustomPrice = generic.MustParseMoney(price)
	return &o, nil
}

func (s *Store) PutOverride(ctx context.Context, o generic.FulfillerOverride) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO fulfiller_overrides (fulfiller_id, item_id, custom_price, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fulfiller_id, item_id) DO UPDATE SET
			custom_price = EXCLUDED.custom_price,
			updated_at = EXCLUDED.updated_at`,
		string(o.FulfillerID), string(o.ItemID), o.CustomPrice.String(), o.UpdatedAt)
	if err != nil {
		return storeErr("put override", err)
	}
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) error {
	_, err := s.q.Exec(ctx,
		"DELETE FROM fulfiller_overrides WHERE fulfiller_id = $1 AND item_id = $2", string(fulfillerID), string(itemID))
	if err != nil {
		return storeErr("delete override", err)
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveFulfiller(ctx context.Context, f generic.Fulfiller) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO fulfillers (id, role, name, is_active, is_available, rating, service_types, panchayat_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			role = EXCLUDED.role,
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			is_available = EXCLUDED.is_available,
			rating = EXCLUDED.rating,
			service_types = EXCLUDED.service_types,
			panchayat_id = EXCLUDED.panchayat_id`,
		string(f.ID), string(f.Role), f.Name, f.IsActive, f.IsAvailable, f.Rating.String(),
		serviceTypesToText(f.AllowedServiceTypes), strPtr(f.PanchayatID))
	if err != nil {
		return storeErr("save fulfiller", err)
	}
	return nil
}

func (s *Store) GetFulfiller(ctx context.Context, id generic.FulfillerID) (*generic.Fulfiller, error) {
	list, err := s.queryFulfillers(ctx, "WHERE id = $1", string(id))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, generic.NotFound("fulfiller", id)
	}
	return &list[0], nil
}

func (s *Store) ListFulfillers(ctx context.Context, role generic.Role) ([]generic.Fulfiller, error) {
	if role == "" {
		return s.queryFulfillers(ctx, "")
	}
	return s.queryFulfillers(ctx, "WHERE role = $1", string(role))
}

func (s *Store) ListEligibleFulfillers(ctx context.Context, serviceType generic.ServiceType, role generic.Role) ([]generic.Fulfiller, error) {
	if role == generic.RoleCook {
		return s.queryFulfillers(ctx,
			"WHERE role = $1 AND is_active AND is_available AND $2 = ANY(service_types)",
			string(role), string(serviceType))
	}
	return s.queryFulfillers(ctx, "WHERE role = $1 AND is_active AND is_available", string(role))
}

func (s *Store) queryFulfillers(ctx context.Context, clause string, args ...any) ([]generic.Fulfiller, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, role, name, is_active, is_available, rating::text, service_types, panchayat_id
		FROM fulfillers `+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, storeErr("query fulfillers", err)
	}
	defer rows.Close()

	var list []generic.Fulfiller
	for rows.Next() {
		var (
			f                    generic.Fulfiller
			id, role, rating     string
			types                []string
			panchayatID          *string
		)
		if err := rows.Scan(&id, &role, &f.Name, &f.IsActive, &f.IsAvailable, &rating, &types, &panchayatID); err != nil {
			return nil, storeErr("scan fulfiller", err)
		}
		f.ID = generic.FulfillerID(id)
		f.Role = generic.Role(role)
		f.Rating = decimal.RequireFromString(rating)
		f.AllowedServiceTypes = serviceTypesFromText(types)
		f.PanchayatID = idPtr[generic.PanchayatID](panchayatID)
		list = append(list, f)
	}
	return list, rows.Err()
}

func (s *Store) SaveReferrer(ctx context.Context, r generic.ReferrerProfile) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO referrers (user_id, name, code) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code`,
		string(r.UserID), r.Name, r.Code)
	if err != nil {
		return storeErr("save referrer", err)
	}
	return nil
}

func (s *Store) ListReferrers(ctx context.Context) ([]generic.ReferrerProfile, error) {
	rows, err := s.q.Query(ctx, "SELECT user_id, name, code FROM referrers ORDER BY user_id")
	if err != nil {
		return nil, storeErr("list referrers", err)
	}
	defer rows.Close()

	var list []generic.ReferrerProfile
	for rows.Next() {
		var (
			r      generic.ReferrerProfile
			userID string
		)
		if err := rows.Scan(&userID, &r.Name, &r.Code); err != nil {
			return nil, storeErr("scan referrer", err)
		}
		r.UserID = generic.UserID(userID)
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *Store) SavePanchayat(ctx context.Context, p generic.Panchayat) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO panchayats (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, string(p.ID), p.Name)
	if err != nil {
		return storeErr("save panchayat", err)
	}
	return nil
}

func (s *Store) ListPanchayats(ctx context.Context) ([]generic.Panchayat, error) {
	rows, err := s.q.Query(ctx, "SELECT id, name FROM panchayats ORDER BY id")
	if err != nil {
		return nil, storeErr("list panchayats", err)
	}
	defer rows.Close()

	var list []generic.Panchayat
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, storeErr("scan panchayat", err)
		}
		list = append(list, generic.Panchayat{ID: generic.PanchayatID(id), Name: name})
	}
	return list, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `
		TRUNCATE wallet_entries, delivery_wallets, referral_commissions, assignments,
		         order_slots, order_items, orders, fulfiller_overrides, catalog_items,
		         fulfillers, referrers, panchayats`)
	if err != nil {
		return storeErr("reset", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed predicates with positional parameters.
type where struct {
	preds []string
	args  []any
}

// add appends a predicate; format holds one %s for the placeholder.
func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.preds = append(w.preds, fmt.Sprintf(format, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) clause() string {
	if len(w.preds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.preds, " AND ")
}

func scanOrder(row pgx.Row) (generic.Order, error) {
	var (
		o                                                 generic.Order
		id, number, customer, status, serviceType, total string
		panchayatID, referredBy                           *string
	)
	err := row.Scan(&id, &number, &customer, &status, &serviceType, &total,
		&panchayatID, &o.WardNumber, &referredBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.ID = generic.OrderID(id)
	o.OrderNumber = number
	o.CustomerID = generic.UserID(customer)
	o.Status = generic.OrderStatus(status)
	o.ServiceType = generic.ServiceType(serviceType)
	o.TotalAmount = generic.MustParseMoney(total)
	o.PanchayatID = idPtr[generic.PanchayatID](panchayatID)
	o.ReferredBy = idPtr[generic.UserID](referredBy)
	return o, nil
}

func serviceTypesToText(types []generic.ServiceType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func serviceTypesFromText(types []string) []generic.ServiceType {
	out := make([]generic.ServiceType, len(types))
	for i, t := range types {
		out[i] = generic.ServiceType(t)
	}
	return out
}

func strPtr[T ~string](p *T) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

func idPtr[T ~string](p *string) *T {
	if p == nil {
		return nil
	}
	v := T(*p)
	return &v
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func storeErr(op string, err error) error {
	return &generic.StoreError{Op: op, Err: err}
}

var _ generic.TxStore = (*Store)(nil)
