package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

var DB *sql.DB

// DSN builds the connection string from DB_* variables. Times are stored and
// read back in UTC.
func DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = os.Getenv("DB_USER")
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", os.Getenv("DB_HOST"), os.Getenv("DB_PORT"))
	cfg.DBName = os.Getenv("DB_NAME")
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

func Init() error {
	var err error
	DB, err = sql.Open("mysql", DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := DB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if _, err := DB.Exec("SET time_zone = '+00:00'"); err != nil {
		return fmt.Errorf("failed to set timezone: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// IsDuplicateKey reports a unique constraint violation (MySQL error 1062).
func IsDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// Tables in creation order; ResetTables drops them in reverse.
var Tables = []string{
	"profiles",
	"settings",
	"partnership_services",
	"book_access",
	"orders",
	"order_items",
	"membership_payments",
	"transactions",
	"fulfillment_ledger",
	"notifications",
	"aggregator_payments",
}

var schema = map[string]string{
	"profiles": `CREATE TABLE IF NOT EXISTS profiles (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL DEFAULT '',
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		is_member BOOLEAN NOT NULL DEFAULT FALSE,
		membership_started_at TIMESTAMP NULL,
		membership_expires_at TIMESTAMP NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
	"settings": `CREATE TABLE IF NOT EXISTS settings (
		` + "`key`" + ` VARCHAR(100) PRIMARY KEY,
		value VARCHAR(255) NOT NULL
	)`,
	"partnership_services": `CREATE TABLE IF NOT EXISTS partnership_services (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		commission_rate DECIMAL(5,2) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	"book_access": `CREATE TABLE IF NOT EXISTS book_access (
		book_id VARCHAR(64) PRIMARY KEY,
		encrypted_access_password TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
	"orders": `CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		status VARCHAR(20) NOT NULL,
		total_amount DECIMAL(12,2) NOT NULL,
		payment_id VARCHAR(255) NULL,
		payment_metadata JSON NULL,
		shipping_address JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_orders_status_created (status, created_at)
	)`,
	"order_items": `CREATE TABLE IF NOT EXISTS order_items (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		book_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(12,2) NOT NULL,
		is_digital BOOLEAN NOT NULL DEFAULT FALSE,
		encrypted_access_password TEXT NULL,
		INDEX idx_order_items_order (order_id)
	)`,
	"membership_payments": `CREATE TABLE IF NOT EXISTS membership_payments (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		reference_id VARCHAR(100) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		status VARCHAR(20) NOT NULL,
		payment_id VARCHAR(255) NULL,
		metadata JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY unique_reference (reference_id),
		INDEX idx_membership_payment_id (payment_id)
	)`,
	"transactions": `CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		status VARCHAR(20) NOT NULL,
		provider_reference VARCHAR(255) NOT NULL,
		metadata JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY unique_order_reference (order_id, provider_reference),
		INDEX idx_provider_reference (provider_reference)
	)`,
	"fulfillment_ledger": `CREATE TABLE IF NOT EXISTS fulfillment_ledger (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		order_item_id VARCHAR(64) NOT NULL,
		partner_service_id VARCHAR(64) NULL,
		amount DECIMAL(12,2) NOT NULL,
		payout_status VARCHAR(20) NOT NULL,
		metadata JSON NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY unique_order_item (order_id, order_item_id)
	)`,
	"notifications": `CREATE TABLE IF NOT EXISTS notifications (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		type VARCHAR(50) NOT NULL,
		link VARCHAR(255) NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_notifications_user (user_id)
	)`,
	"aggregator_payments": `CREATE TABLE IF NOT EXISTS aggregator_payments (
		id VARCHAR(64) PRIMARY KEY,
		reference_id VARCHAR(100) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		phone VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		callback_url VARCHAR(512) NOT NULL,
		payload JSON,
		deliveries INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

var seeds = []string{
	"INSERT IGNORE INTO settings (`key`, value) VALUES ('membership_duration_days', '30')",
	`INSERT IGNORE INTO partnership_services (id, name, type, commission_rate, is_active)
		VALUES ('platform', 'Bookstore platform', 'platform', 10.00, TRUE)`,
}

func CreateTables() error {
	for _, table := range Tables {
		if _, err := DB.Exec(schema[table]); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}

	for _, seed := range seeds {
		if _, err := DB.Exec(seed); err != nil {
			return fmt.Errorf("failed to seed defaults: %w", err)
		}
	}

	return nil
}

func ResetTables() error {
	for i := len(Tables) - 1; i >= 0; i-- {
		table := Tables[i]
		query := fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
		if _, err := DB.Exec(query); err != nil {
			slog.Error("Failed to drop table", "table", table, "error", err)
		} else {
			slog.Info("Table dropped", "table", table)
		}
	}

	if err := CreateTables(); err != nil {
		return fmt.Errorf("failed to recreate tables: %w", err)
	}

	slog.Info("All tables dropped and recreated successfully")
	return nil
}
