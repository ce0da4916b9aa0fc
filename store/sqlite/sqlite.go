/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore using SQLite. The postgres package holds the
  row-locking variant; the schema is the same up to dialect.

KEY TABLES:
  orders, order_items:   Order headers and price-snapshotted lines
  order_slots:           One row per (order, role), CAS on version
  assignments:           Append-only assignment history
  delivery_wallets:      Running totals per staff member, CAS on version
  wallet_entries:        Append-only wallet log, unique idempotency_key
  referral_commissions:  Unique (order_id, referrer_id)
  catalog_items, fulfiller_overrides, fulfillers, referrers, panchayats

CONSTRAINTS AS ERRORS:
  UNIQUE violations are mapped to the generic sentinels:
  - wallet_entries.idempotency_key         → ErrDuplicateIdempotencyKey
  - referral_commissions(order, referrer)  → ErrDuplicateCommission
  A version CAS that updates zero rows     → ErrConcurrentModification

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole transaction, which makes SQLite a single writer; the Store
  handed to fn is bound to the sql.Tx and skips the mutex.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

TIMESTAMPS:
  Stored as fixed-width UTC text (timeFormat) so that string comparison
  in WHERE clauses is chronological.

USAGE:
  store, err := sqlite.New("./data/fulfillment.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/generic"
)

const timeFormat = "2006-01-02T15:04:05.000000000Z"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	conn dbtx
	mu   *sync.RWMutex
	inTx bool
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, conn: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS panchayats (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS referrers (
		user_id TEXT PRIMARY KEY,
		name TEXT,
		code TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS fulfillers (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		is_available INTEGER NOT NULL,
		rating TEXT NOT NULL DEFAULT '0',
		service_types_json TEXT NOT NULL DEFAULT '[]',
		panchayat_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_fulfillers_role ON fulfillers(role, is_active, is_available);

	CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_price TEXT NOT NULL,
		margin_type TEXT NOT NULL DEFAULT 'percent',
		margin_value TEXT NOT NULL DEFAULT '0',
		service_types_json TEXT NOT NULL DEFAULT '[]',
		is_available INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS fulfiller_overrides (
		fulfiller_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		custom_price TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (fulfiller_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		service_type TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		panchayat_id TEXT,
		ward_number INTEGER NOT NULL DEFAULT 0,
		referred_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

	CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		PRIMARY KEY (order_id, position)
	);

	-- One row per (order, role). version is the compare-and-swap column.
	CREATE TABLE IF NOT EXISTS order_slots (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		fulfiller_id TEXT,
		status TEXT NOT NULL DEFAULT 'unassigned',
		assigned_at TEXT,
		responded_at TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, role)
	);

	CREATE INDEX IF NOT EXISTS idx_order_slots_status ON order_slots(role, status);

	CREATE TABLE IF NOT EXISTS assignments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		order_id TEXT NOT NULL,
		role TEXT NOT NULL,
		fulfiller_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_order ON assignments(order_id, role);
	CREATE INDEX IF NOT EXISTS idx_assignments_fulfiller ON assignments(fulfiller_id);

	CREATE TABLE IF NOT EXISTS delivery_wallets (
		staff_id TEXT PRIMARY KEY,
		collected_amount TEXT NOT NULL,
		job_earnings TEXT NOT NULL,
		total_settled TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only. idempotency_key makes delivery postings exactly-once.
	CREATE TABLE IF NOT EXISTS wallet_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		staff_id TEXT NOT NULL,
		order_id TEXT,
		kind TEXT NOT NULL,
		collected_delta TEXT NOT NULL,
		earnings_delta TEXT NOT NULL,
		settled_delta TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_entries_idempotency ON wallet_entries(idempotency_key);
	CREATE INDEX IF NOT EXISTS idx_wallet_entries_staff ON wallet_entries(staff_id);

	CREATE TABLE IF NOT EXISTS referral_commissions (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		commission_percent TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		approved_at TEXT,
		paid_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_pair ON referral_commissions(order_id, referrer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKING & TRANSACTIONS
// =============================================================================

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	defer s.lock()()
	return s.withTxLocked(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTxLocked(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &generic.StoreError{Op: "begin", Err: err}
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, conn: sqlTx, mu: s.mu, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &generic.StoreError{Op: "commit", Err: err, Ambiguous: true}
	}
	return nil
}

// =============================================================================
// ORDERS & SLOTS
// =============================================================================

func (s *Store) SaveOrder(ctx context.Context, o generic.Order) error {
	defer s.lock()()

	return s.withTxLocked(ctx, func(tx *Store) error {
		_, err := tx.conn.ExecContext(ctx, `
			INSERT INTO orders
			(id, order_number, customer_id, status, service_type, total_amount,
			 panchayat_id, ward_number, referred_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				order_number = excluded.order_number,
				customer_id = excluded.customer_id,
				status = excluded.status,
				service_type = excluded.service_type,
				total_amount = excluded.total_amount,
				panchayat_id = excluded.panchayat_id,
				ward_number = excluded.ward_number,
				referred_by = excluded.referred_by,
				updated_at = excluded.updated_at
		`,
			o.ID, o.OrderNumber, o.CustomerID, o.Status, o.ServiceType, o.TotalAmount.String(),
			nullPtr(o.PanchayatID), o.WardNumber, nullPtr(o.ReferredBy),
			formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		)
		if err != nil {
			return storeErr("save order", err)
		}

		if _, err := tx.conn.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = ?", o.ID); err != nil {
			return storeErr("save order items", err)
		}
		for i, it := range o.Items {
			_, err := tx.conn.ExecContext(ctx, `
				INSERT INTO order_items (order_id, position, item_id, quantity, unit_price, total_price)
				VALUES (?, ?, ?, ?, ?, ?)
			`, o.ID, i, it.ItemID, it.Quantity, it.UnitPrice.String(), it.TotalPrice.String())
			if err != nil {
				return storeErr("save order items", err)
			}
		}

		for _, role := range generic.Roles {
			_, err := tx.conn.ExecContext(ctx, `
				INSERT OR IGNORE INTO order_slots (order_id, role, status, version)
				VALUES (?, ?, ?, 0)
			`, o.ID, role, generic.SlotUnassigned)
			if err != nil {
				return storeErr("save order slots", err)
			}
		}
		return nil
	})
}

const orderColumns = `id, order_number, customer_id, status, service_type, total_amount,
	panchayat_id, ward_number, referred_by, created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	defer s.rlock()()
	return s.getOrder(ctx, id)
}

// LockOrder is GetOrder; inside WithTx the store-wide write lock already serializes.
func (s *Store) LockOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *Store) getOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.conn.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price, total_price
		FROM order_items WHERE order_id = ? ORDER BY position
	`, o.ID)
	if err != nil {
		return storeErr("load order items", err)
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var (
			it           generic.OrderItem
			unit, amount string
		)
		if err := rows.Scan(&it.ItemID, &it.Quantity, &unit, &amount); err != nil {
			return storeErr("scan order item", err)
		}
		it.UnitPrice = generic.MustParseMoney(unit)
		it.TotalPrice = generic.MustParseMoney(amount)
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return storeErr("load order items", err)
	}

	slots, err := s.querySlots(ctx, "WHERE order_id = ?", o.ID)
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
	defer s.lock()()

	res, err := s.conn.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ?",
		status, formatTime(time.Now()), id)
	if err != nil {
		return storeErr("update order status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("order", id)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, f generic.OrderFilter) ([]generic.Order, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if f.Range.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.Range.Start))
	}
	if f.Range.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*f.Range.End))
	}
	if f.PanchayatID != nil {
		where = append(where, "panchayat_id = ?")
		args = append(args, *f.PanchayatID)
	}
	if f.ServiceType != "" {
		where = append(where, "service_type = ?")
		args = append(args, f.ServiceType)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.conn.QueryContext(ctx, query, args...)
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
	defer s.rlock()()

	slots, err := s.querySlots(ctx, "WHERE order_id = ? AND role = ?", orderID, role)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, generic.NotFound("order", orderID)
	}
	return &slots[0], nil
}

// SaveSlot writes the slot only if its version is unchanged.
func (s *Store) SaveSlot(ctx context.Context, slot generic.AssignmentSlot) (generic.AssignmentSlot, error) {
	defer s.lock()()

	res, err := s.conn.ExecContext(ctx, `
		UPDATE order_slots
		SET fulfiller_id = ?, status = ?, assigned_at = ?, responded_at = ?, version = version + 1
		WHERE order_id = ? AND role = ? AND version = ?
	`,
		nullPtr(slot.FulfillerID), slot.Status, nullTime(slot.AssignedAt), nullTime(slot.RespondedAt),
		slot.OrderID, slot.Role, slot.Version,
	)
	if err != nil {
		return generic.AssignmentSlot{}, storeErr("save slot", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM order_slots WHERE order_id = ? AND role = ?",
			slot.OrderID, slot.Role).Scan(&exists)
		if err != nil {
			return generic.AssignmentSlot{}, storeErr("save slot", err)
		}
		if exists == 0 {
			return generic.AssignmentSlot{}, generic.NotFound("order", slot.OrderID)
		}
		return generic.AssignmentSlot{}, generic.ErrConcurrentModification
	}
	slot.Version++
	return slot, nil
}

func (s *Store) ListSlots(ctx context.Context, role generic.Role, status generic.SlotStatus) ([]generic.AssignmentSlot, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if role != "" {
		where = append(where, "role = ?")
		args = append(args, role)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	return s.querySlots(ctx, clause, args...)
}

func (s *Store) querySlots(ctx context.Context, clause string, args ...any) ([]generic.AssignmentSlot, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT order_id, role, fulfiller_id, status, assigned_at, responded_at, version
		FROM order_slots `+clause+` ORDER BY order_id, role`, args...)
	if err != nil {
		return nil, storeErr("query slots", err)
	}
	defer rows.Close()

	var slots []generic.AssignmentSlot
	for rows.Next() {
		var (
			slot                  generic.AssignmentSlot
			fulfillerID           sql.NullString
			assignedAt, responded sql.NullString
		)
		if err := rows.Scan(&slot.OrderID, &slot.Role, &fulfillerID, &slot.Status,
			&assignedAt, &responded, &slot.Version); err != nil {
			return nil, storeErr("scan slot", err)
		}
		slot.FulfillerID = ptrOf[generic.FulfillerID](fulfillerID)
		slot.AssignedAt = parseNullTime(assignedAt)
		slot.RespondedAt = parseNullTime(responded)
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (s *Store) AppendAssignment(ctx context.Context, a generic.Assignment) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO assignments (id, order_id, role, fulfiller_id, outcome, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.OrderID, a.Role, a.FulfillerID, a.Outcome, a.Reason, formatTime(a.At))
	if err != nil {
		return storeErr("append assignment", err)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, f generic.AssignmentFilter) ([]generic.Assignment, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.FulfillerID != "" {
		where = append(where, "fulfiller_id = ?")
		args = append(args, f.FulfillerID)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	query := "SELECT id, order_id, role, fulfiller_id, outcome, reason, at FROM assignments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list assignments", err)
	}
	defer rows.Close()

	var result []generic.Assignment
	for rows.Next() {
		var (
			a  generic.Assignment
			at string
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Role, &a.FulfillerID, &a.Outcome, &a.Reason, &at); err != nil {
			return nil, storeErr("scan assignment", err)
		}
		a.At = parseTime(at)
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// WALLETS
// =============================================================================

func (s *Store) GetWallet(ctx context.Context, staffID generic.FulfillerID) (*generic.DeliveryWallet, error) {
	defer s.rlock()()

	wallets, err := s.queryWallets(ctx, "WHERE staff_id = ?", staffID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, generic.NotFound("wallet", staffID)
	}
	return &wallets[0], nil
}

func (s *Store) SaveWallet(ctx context.Context, w generic.DeliveryWallet) (generic.DeliveryWallet, error) {
	defer s.lock()()

	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now().UTC()
	}

	if w.Version == 0 {
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO delivery_wallets (staff_id, collected_amount, job_earnings, total_settled, version, updated_at)
			VALUES (?, ?, ?, ?, 1, ?)
		`, w.StaffID, w.CollectedAmount.String(), w.JobEarnings.String(), w.TotalSettled.String(), formatTime(w.UpdatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.DeliveryWallet{}, generic.ErrConcurrentModification
			}
			return generic.DeliveryWallet{}, storeErr("insert wallet", err)
		}
		w.Version = 1
		return w, nil
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE delivery_wallets
		SET collected_amount = ?, job_earnings = ?, total_settled = ?, version = version + 1, updated_at = ?
		WHERE staff_id = ? AND version = ?
	`, w.CollectedAmount.String(), w.JobEarnings.String(), w.TotalSettled.String(), formatTime(w.UpdatedAt),
		w.StaffID, w.Version)
	if err != nil {
		return generic.DeliveryWallet{}, storeErr("save wallet", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.DeliveryWallet{}, generic.ErrConcurrentModification
	}
	w.Version++
	return w, nil
}

func (s *Store) ListWallets(ctx context.Context) ([]generic.DeliveryWallet, error) {
	defer s.rlock()()
	return s.queryWallets(ctx, "")
}

func (s *Store) queryWallets(ctx context.Context, clause string, args ...any) ([]generic.DeliveryWallet, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT staff_id, collected_amount, job_earnings, total_settled, version, updated_at
		FROM delivery_wallets `+clause+` ORDER BY staff_id`, args...)
	if err != nil {
		return nil, storeErr("query wallets", err)
	}
	defer rows.Close()

	var wallets []generic.DeliveryWallet
	for rows.Next() {
		var (
			w                           generic.DeliveryWallet
			collected, earned, settled  string
			updatedAt                   string
		)
		if err := rows.Scan(&w.StaffID, &collected, &earned, &settled, &w.Version, &updatedAt); err != nil {
			return nil, storeErr("scan wallet", err)
		}
		w.CollectedAmount = generic.MustParseMoney(collected)
		w.JobEarnings = generic.MustParseMoney(earned)
		w.TotalSettled = generic.MustParseMoney(settled)
		w.UpdatedAt = parseTime(updatedAt)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (s *Store) AppendWalletEntry(ctx context.Context, e generic.WalletEntry) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO wallet_entries
		(id, staff_id, order_id, kind, collected_delta, earnings_delta, settled_delta, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.StaffID, nullPtr(e.OrderID), e.Kind,
		e.CollectedDelta.String(), e.EarningsDelta.String(), e.SettledDelta.String(),
		e.IdempotencyKey, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		return storeErr("append wallet entry", err)
	}
	return nil
}

const entryColumns = `id, staff_id, order_id, kind, collected_delta, earnings_delta, settled_delta,
	idempotency_key, created_at`

func (s *Store) FindWalletEntry(ctx context.Context, idempotencyKey string) (*generic.WalletEntry, error) {
	defer s.rlock()()

	entries, err := s.queryEntries(ctx, "WHERE idempotency_key = ?", idempotencyKey)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (s *Store) ListWalletEntries(ctx context.Context, staffID generic.FulfillerID) ([]generic.WalletEntry, error) {
	defer s.rlock()()

	if staffID == "" {
		return s.queryEntries(ctx, "")
	}
	return s.queryEntries(ctx, "WHERE staff_id = ?", staffID)
}

func (s *Store) queryEntries(ctx context.Context, clause string, args ...any) ([]generic.WalletEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM wallet_entries "+clause+" ORDER BY seq", args...)
	if err != nil {
		return nil, storeErr("query wallet entries", err)
	}
	defer rows.Close()

	var entries []generic.WalletEntry
	for rows.Next() {
		var (
			e                          generic.WalletEntry
			orderID                    sql.NullString
			collected, earned, settled string
			createdAt                  string
		)
		if err := rows.Scan(&e.ID, &e.StaffID, &orderID, &e.Kind, &collected, &earned, &settled,
			&e.IdempotencyKey, &createdAt); err != nil {
			return nil, storeErr("scan wallet entry", err)
		}
		e.OrderID = ptrOf[generic.OrderID](orderID)
		e.CollectedDelta = generic.MustParseMoney(collected)
		e.EarningsDelta = generic.MustParseMoney(earned)
		e.SettledDelta = generic.MustParseMoney(settled)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (s *Store) InsertCommission(ctx context.Context, c generic.ReferralCommission) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO referral_commissions
		(id, referrer_id, order_id, commission_percent, commission_amount, status, created_at, approved_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.ReferrerID, c.OrderID, c.CommissionPercent.String(), c.CommissionAmount.String(),
		c.Status, formatTime(c.CreatedAt), nullTime(c.ApprovedAt), nullTime(c.PaidAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateCommission
		}
		return storeErr("insert commission", err)
	}
	return nil
}

const commissionColumns = `id, referrer_id, order_id, commission_percent, commission_amount, status,
	created_at, approved_at, paid_at`

func (s *Store) GetCommission(ctx context.Context, id generic.CommissionID) (*generic.ReferralCommission, error) {
	defer s.rlock()()

	list, err := s.queryCommissions(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, generic.NotFound("commission", id)
	}
	return &list[0], nil
}

func (s *Store) FindCommission(ctx context.Context, orderID generic.OrderID, referrerID generic.UserID) (*generic.ReferralCommission, error) {
	defer s.rlock()()

	list, err := s.queryCommissions(ctx, "WHERE order_id = ? AND referrer_id = ?", orderID, referrerID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) UpdateCommissionStatus(ctx context.Context, c generic.ReferralCommission, from generic.CommissionStatus) error {
	defer s.lock()()

	res, err := s.conn.ExecContext(ctx, `
		UPDATE referral_commissions
		SET status = ?, approved_at = ?, paid_at = ?
		WHERE id = ? AND status = ?
	`, c.Status, nullTime(c.ApprovedAt), nullTime(c.PaidAt), c.ID, from)
	if err != nil {
		return storeErr("update commission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM referral_commissions WHERE id = ?", c.ID).Scan(&exists); err != nil {
			return storeErr("update commission", err)
		}
		if exists == 0 {
			return generic.NotFound("commission", c.ID)
		}
		return generic.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ListCommissions(ctx context.Context, f generic.CommissionFilter) ([]generic.ReferralCommission, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if f.ReferrerID != "" {
		where = append(where, "referrer_id = ?")
		args = append(args, f.ReferrerID)
	}
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	return s.queryCommissions(ctx, clause, args...)
}

func (s *Store) queryCommissions(ctx context.Context, clause string, args ...any) ([]generic.ReferralCommission, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+commissionColumns+" FROM referral_commissions "+clause+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, storeErr("query commissions", err)
	}
	defer rows.Close()

	var list []generic.ReferralCommission
	for rows.Next() {
		var (
			c                  generic.ReferralCommission
			percent, amount    string
			createdAt          string
			approvedAt, paidAt sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ReferrerID, &c.OrderID, &percent, &amount, &c.Status,
			&createdAt, &approvedAt, &paidAt); err != nil {
			return nil, storeErr("scan commission", err)
		}
		c.CommissionPercent = decimal.RequireFromString(percent)
		c.CommissionAmount = generic.MustParseMoney(amount)
		c.CreatedAt = parseTime(createdAt)
		c.ApprovedAt = parseNullTime(approvedAt)
		c.PaidAt = parseNullTime(paidAt)
		list = append(list, c)
	}
	return list, rows.Err()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item generic.CatalogItem) error {
	defer s.lock()()

	types, _ := json.Marshal(item.ServiceTypes)
	margin := item.Margin.Normalized()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO catalog_items (id, name, base_price, margin_type, margin_value, service_types_json, is_available)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_price = excluded.base_price,
			margin_type = excluded.margin_type,
			margin_value = excluded.margin_value,
			service_types_json = excluded.service_types_json,
			is_available = excluded.is_available
	`, item.ID, item.Name, item.BasePrice.String(), margin.Type, margin.Value.String(), string(types), item.IsAvailable)
	if err != nil {
		return storeErr("save item", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id generic.ItemID) (*generic.CatalogItem, error) {
	defer s.rlock()()

	var (
		item                    generic.CatalogItem
		base, marginValue, types string
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, name, base_price, margin_type, margin_value, service_types_json, is_available
		FROM catalog_items WHERE id = ?
	`, id).Scan(&item.ID, &item.Name, &base, &item.Margin.Type, &marginValue, &types, &item.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("item", id)
	}
	if err != nil {
		return nil, storeErr("get item", err)
	}
	item.BasePrice = generic.MustParseMoney(base)
	item.Margin.Value = decimal.RequireFromString(marginValue)
	json.Unmarshal([]byte(types), &item.ServiceTypes)
	return &item, nil
}

func (s *Store) GetOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) (*generic.FulfillerOverride, error) {
	defer s.rlock()()

	var price, updatedAt string
	err := s.conn.QueryRowContext(ctx, `
		SELECT custom_price, updated_at FROM fulfiller_overrides
		WHERE fulfiller_id = ? AND item_id = ?
	`, fulfillerID, itemID).Scan(&price, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get override", err)
	}
	return &generic.FulfillerOverride{
		FulfillerID: fulfillerID,
		ItemID:      itemID,
		CustomPrice: generic.MustParseMoney(price),
		UpdatedAt:   parseTime(updatedAt),
	}, nil
}

func (s *Store) PutOverride(ctx context.Context, o generic.FulfillerOverride) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO fulfiller_overrides (fulfiller_id, item_id, custom_price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fulfiller_id, item_id) DO UPDATE SET
			custom_price = excluded.custom_price,
			updated_at = excluded.updated_at
	`, o.FulfillerID, o.ItemID, o.CustomPrice.String(), formatTime(o.UpdatedAt))
	if err != nil {
		return storeErr("put override", err)
	}
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, fulfillerID generic.FulfillerID, itemID generic.ItemID) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM fulfiller_overrides WHERE fulfiller_id = ? AND item_id = ?", fulfillerID, itemID)
	if err != nil {
		return storeErr("delete override", err)
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveFulfiller(ctx context.Context, f generic.Fulfiller) error {
	defer s.lock()()

	types, _ := json.Marshal(f.AllowedServiceTypes)
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO fulfillers (id, role, name, is_active, is_available, rating, service_types_json, panchayat_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role = excluded.role,
			name = excluded.name,
			is_active = excluded.is_active,
			is_available = excluded.is_available,
			rating = excluded.rating,
			service_types_json = excluded.service_types_json,
			panchayat_id = excluded.panchayat_id
	`, f.ID, f.Role, f.Name, f.IsActive, f.IsAvailable, f.Rating.String(), string(types), nullPtr(f.PanchayatID))
	if err != nil {
		return storeErr("save fulfiller", err)
	}
	return nil
}

func (s *Store) GetFulfiller(ctx context.Context, id generic.FulfillerID) (*generic.Fulfiller, error) {
	defer s.rlock()()

	list, err := s.queryFulfillers(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, generic.NotFound("fulfiller", id)
	}
	return &list[0], nil
}

func (s *Store) ListFulfillers(ctx context.Context, role generic.Role) ([]generic.Fulfiller, error) {
	defer s.rlock()()

	if role == "" {
		return s.queryFulfillers(ctx, "")
	}
	return s.queryFulfillers(ctx, "WHERE role = ?", role)
}

func (s *Store) ListEligibleFulfillers(ctx context.Context, serviceType generic.ServiceType, role generic.Role) ([]generic.Fulfiller, error) {
	defer s.rlock()()

	list, err := s.queryFulfillers(ctx, "WHERE role = ? AND is_active = 1 AND is_available = 1", role)
	if err != nil {
		return nil, err
	}
	if role != generic.RoleCook {
		return list, nil
	}
	eligible := list[:0]
	for _, f := range list {
		if f.Serves(serviceType) {
			eligible = append(eligible, f)
		}
	}
	return eligible, nil
}

func (s *Store) queryFulfillers(ctx context.Context, clause string, args ...any) ([]generic.Fulfiller, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, role, name, is_active, is_available, rating, service_types_json, panchayat_id
		FROM fulfillers `+clause+` ORDER BY id`, args...)
	if err != nil {
		return nil, storeErr("query fulfillers", err)
	}
	defer rows.Close()

	var list []generic.Fulfiller
	for rows.Next() {
		var (
			f             generic.Fulfiller
			rating, types string
			panchayatID   sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Role, &f.Name, &f.IsActive, &f.IsAvailable, &rating, &types, &panchayatID); err != nil {
			return nil, storeErr("scan fulfiller", err)
		}
		f.Rating = decimal.RequireFromString(rating)
		json.Unmarshal([]byte(types), &f.AllowedServiceTypes)
		f.PanchayatID = ptrOf[generic.PanchayatID](panchayatID)
		list = append(list, f)
	}
	return list, rows.Err()
}

func (s *Store) SaveReferrer(ctx context.Context, r generic.ReferrerProfile) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO referrers (user_id, name, code) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET name = excluded.name, code = excluded.code
	`, r.UserID, nullPtr(r.Name), r.Code)
	if err != nil {
		return storeErr("save referrer", err)
	}
	return nil
}

func (s *Store) ListReferrers(ctx context.Context) ([]generic.ReferrerProfile, error) {
	defer s.rlock()()

	rows, err := s.conn.QueryContext(ctx, "SELECT user_id, name, code FROM referrers ORDER BY user_id")
	if err != nil {
		return nil, storeErr("list referrers", err)
	}
	defer rows.Close()

	var list []generic.ReferrerProfile
	for rows.Next() {
		var (
			r    generic.ReferrerProfile
			name sql.NullString
		)
		if err := rows.Scan(&r.UserID, &name, &r.Code); err != nil {
			return nil, storeErr("scan referrer", err)
		}
		r.Name = ptrOf[string](name)
		list = append(list, r)
	}
	return list, rows.Err()
}

func (s *Store) SavePanchayat(ctx context.Context, p generic.Panchayat) error {
	defer s.lock()()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO panchayats (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, p.ID, p.Name)
	if err != nil {
		return storeErr("save panchayat", err)
	}
	return nil
}

func (s *Store) ListPanchayats(ctx context.Context) ([]generic.Panchayat, error) {
	defer s.rlock()()

	rows, err := s.conn.QueryContext(ctx, "SELECT id, name FROM panchayats ORDER BY id")
	if err != nil {
		return nil, storeErr("list panchayats", err)
	}
	defer rows.Close()

	var list []generic.Panchayat
	for rows.Next() {
		var p generic.Panchayat
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, storeErr("scan panchayat", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	tables := []string{
		"wallet_entries", "delivery_wallets", "referral_commissions", "assignments",
		"order_slots", "order_items", "orders", "fulfiller_overrides", "catalog_items",
		"fulfillers", "referrers", "panchayats",
	}
	for _, table := range tables {
		if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storeErr("reset "+table, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (generic.Order, error) {
	var (
		o                       generic.Order
		total                   string
		panchayatID, referredBy sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.Status, &o.ServiceType, &total,
		&panchayatID, &o.WardNumber, &referredBy, &createdAt, &updatedAt)
	if err != nil {
		return o, err
	}
	o.TotalAmount = generic.MustParseMoney(total)
	o.PanchayatID = ptrOf[generic.PanchayatID](panchayatID)
	o.ReferredBy = ptrOf[generic.UserID](referredBy)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

func storeErr(op string, err error) error {
	return &generic.StoreError{Op: op, Err: err}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullPtr[T ~string](p *T) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func ptrOf[T ~string](s sql.NullString) *T {
	if !s.Valid {
		return nil
	}
	v := T(s.String)
	return &v
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var _ generic.TxStore = (*Store)(nil)
