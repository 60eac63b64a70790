// Package testutil opens an in-memory sqlite database with the parkway schema for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const schema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'customer',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE garages (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	location TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	area TEXT NOT NULL DEFAULT '',
	latitude REAL NULL,
	longitude REAL NULL,
	capacity INTEGER NOT NULL CHECK (capacity > 0),
	available_spots INTEGER NOT NULL CHECK (available_spots >= 0 AND available_spots <= capacity),
	is_active BOOLEAN NOT NULL DEFAULT 1,
	price_per_hour NUMERIC NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE wallets (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL UNIQUE REFERENCES users (id),
	balance NUMERIC NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 0,
	last_updated DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE wallet_entries (
	id INTEGER PRIMARY KEY,
	wallet_id INTEGER NOT NULL REFERENCES wallets (id),
	direction TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	source_type TEXT NOT NULL,
	source_id INTEGER NULL,
	idempotency_key TEXT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (wallet_id, idempotency_key)
);
CREATE TABLE bookings (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users (id),
	garage_id INTEGER NOT NULL REFERENCES garages (id),
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	total_price NUMERIC NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	canceled_at DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE payment_transactions (
	id INTEGER PRIMARY KEY,
	wallet_id INTEGER NOT NULL REFERENCES wallets (id),
	booking_id INTEGER NULL REFERENCES bookings (id),
	amount NUMERIC NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	reference TEXT NULL,
	transaction_date DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE tokens (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users (id),
	booking_id INTEGER NULL REFERENCES bookings (id),
	value TEXT NOT NULL UNIQUE,
	valid_from DATETIME NOT NULL,
	valid_to DATETIME NOT NULL,
	is_used BOOLEAN NOT NULL DEFAULT 0,
	used_at DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE sensors (
	id INTEGER PRIMARY KEY,
	garage_id INTEGER NOT NULL REFERENCES garages (id),
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	is_occupied BOOLEAN NOT NULL DEFAULT 0,
	last_reported_at DATETIME NULL,
	last_maintenance DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE audit_logs (
	id INTEGER PRIMARY KEY,
	actor_type TEXT NOT NULL,
	actor_id TEXT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);
`

// OpenDB returns a fresh database named after the test, limited to one
// connection so concurrent transactions serialize the way row locks would.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

type Fixtures struct {
	t    *testing.T
	db   *gorm.DB
	node *snowflake.Node
}

func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	return &Fixtures{t: t, db: db, node: Node(t)}
}

func (f *Fixtures) exec(sql string, args ...any) {
	f.t.Helper()
	if err := f.db.Exec(sql, args...).Error; err != nil {
		f.t.Fatalf("fixture: %v", err)
	}
}

func (f *Fixtures) User(role string) snowflake.ID {
	f.t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	f.exec(`INSERT INTO users (id, name, email, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, "user "+id.String(), id.String()+"@example.com", role, now, now)
	return id
}

// SystemUser inserts the fixed system actor with the given id.
func (f *Fixtures) SystemUser(id snowflake.ID) {
	f.t.Helper()
	now := time.Now().UTC()
	f.exec(`INSERT INTO users (id, name, email, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, "system", "system@parkway.local", "system", now, now)
}

type GarageSpec struct {
	Capacity       int
	AvailableSpots *int
	PricePerHour   string
	Inactive       bool
	City           string
	Latitude       *float64
	Longitude      *float64
}

func (f *Fixtures) Garage(spec GarageSpec) snowflake.ID {
	f.t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	available := spec.Capacity
	if spec.AvailableSpots != nil {
		available = *spec.AvailableSpots
	}
	price := spec.PricePerHour
	if price == "" {
		price = "10"
	}
	f.exec(`INSERT INTO garages (id, name, slug, city, latitude, longitude, capacity, available_spots, is_active, price_per_hour, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, "garage "+id.String(), "garage-"+id.String(), spec.City, spec.Latitude, spec.Longitude,
		spec.Capacity, available, !spec.Inactive, decimal.RequireFromString(price), now, now)
	return id
}

func (f *Fixtures) Wallet(userID snowflake.ID, balance string) snowflake.ID {
	f.t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	f.exec(`INSERT INTO wallets (id, user_id, balance, version, last_updated, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?, ?)`,
		id, userID, decimal.RequireFromString(balance), now, now, now)
	return id
}

func (f *Fixtures) Booking(userID, garageID snowflake.ID, start, end time.Time, status string, price string) snowflake.ID {
	f.t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	f.exec(`INSERT INTO bookings (id, user_id, garage_id, start_time, end_time, total_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, garageID, start.UTC(), end.UTC(), decimal.RequireFromString(price), status, now, now)
	return id
}

// Payment records a payment row without touching the wallet.
func (f *Fixtures) Payment(walletID, bookingID snowflake.ID, amount, status string) snowflake.ID {
	f.t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	f.exec(`INSERT INTO payment_transactions (id, wallet_id, booking_id, amount, type, status, transaction_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'payment', ?, ?, ?, ?)`,
		id, walletID, bookingID, decimal.RequireFromString(amount), status, now, now, now)
	return id
}

func (f *Fixtures) Sensor(garageID snowflake.ID, occupied bool, status string) snowflake.ID {
	f.t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	f.exec(`INSERT INTO sensors (id, garage_id, type, status, is_occupied, created_at, updated_at) VALUES (?, ?, 'occupancy', ?, ?, ?, ?)`,
		id, garageID, status, occupied, now, now)
	return id
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }

// AvailableSpots reads the garage counter directly.
func AvailableSpots(t *testing.T, db *gorm.DB, garageID snowflake.ID) int {
	t.Helper()
	var n int
	if err := db.Raw(`SELECT available_spots FROM garages WHERE id = ?`, garageID).Scan(&n).Error; err != nil {
		t.Fatalf("read spots: %v", err)
	}
	return n
}

func WalletBalance(t *testing.T, db *gorm.DB, walletID snowflake.ID) decimal.Decimal {
	t.Helper()
	var raw string
	if err := db.Raw(`SELECT CAST(balance AS TEXT) FROM wallets WHERE id = ?`, walletID).Scan(&raw).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return decimal.RequireFromString(raw)
}
