// Package schema owns the platform tables the demo reads and writes:
// migration, row-level security policies and sample data.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51873301

// Policies enable row-level security and publish message inserts to the
// realtime feed. Each statement is idempotent.
var Policies = []string{
	`ALTER TABLE book_store ENABLE ROW LEVEL SECURITY`,
	`DROP POLICY IF EXISTS "books are public" ON book_store`,
	`CREATE POLICY "books are public" ON book_store FOR ALL USING (true) WITH CHECK (true)`,

	`ALTER TABLE profiles ENABLE ROW LEVEL SECURITY`,
	`DROP POLICY IF EXISTS "profiles are readable" ON profiles`,
	`CREATE POLICY "profiles are readable" ON profiles FOR SELECT USING (auth.role() = 'authenticated')`,
	`DROP POLICY IF EXISTS "own profile" ON profiles`,
	`CREATE POLICY "own profile" ON profiles FOR ALL USING (auth.uid() = id) WITH CHECK (auth.uid() = id)`,

	`ALTER TABLE messages ENABLE ROW LEVEL SECURITY`,
	`DROP POLICY IF EXISTS "participants read" ON messages`,
	`CREATE POLICY "participants read" ON messages FOR SELECT USING (auth.uid() IN (sender_user_id, receiver_user_id))`,
	`DROP POLICY IF EXISTS "sender writes" ON messages`,
	`CREATE POLICY "sender writes" ON messages FOR INSERT WITH CHECK (auth.uid() = sender_user_id)`,

	`DO $$
	BEGIN
	IF EXISTS (SELECT 1 FROM pg_publication WHERE pubname = 'supabase_realtime')
	   AND NOT EXISTS (
		SELECT 1 FROM pg_publication_tables
		WHERE pubname = 'supabase_realtime' AND tablename = 'messages'
	) THEN
		ALTER PUBLICATION supabase_realtime ADD TABLE messages;
	END IF;
	END $$`,
}

// Open connects to Postgres with the warn-level GORM logger.
func Open(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		)
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables. With policies set it also applies
// Policies, which need the platform's auth schema.
func Migrate(ctx context.Context, db *gorm.DB, policies bool) error {
	return withMigrationLock(ctx, db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&Book{}, &Profile{}, &Message{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if !policies {
			return nil
		}
		for _, stmt := range Policies {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("apply policy: %w", err)
			}
		}
		return nil
	})
}

// SeedBooks inserts books, skipping ids that already exist, and returns the
// number of rows written.
func SeedBooks(ctx context.Context, db *gorm.DB, books []Book) (int64, error) {
	if len(books) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&books)
	if res.Error != nil {
		return 0, fmt.Errorf("seed books: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SampleBooks is the catalogue used by the seed command.
func SampleBooks() []Book {
	genre := func(s string) *string { return &s }
	year := func(n int) *int { return &n }
	return []Book{
		{Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Genre: genre("Science fiction"), PublishedYear: year(1969)},
		{Title: "Kindred", Author: "Octavia E. Butler", Genre: genre("Science fiction"), PublishedYear: year(1979)},
		{Title: "The Name of the Rose", Author: "Umberto Eco", Genre: genre("Mystery"), PublishedYear: year(1980)},
		{Title: "Beloved", Author: "Toni Morrison", Genre: genre("Literary fiction"), PublishedYear: year(1987)},
		{Title: "A Wizard of Earthsea", Author: "Ursula K. Le Guin", Genre: genre("Fantasy"), PublishedYear: year(1968)},
	}
}

func withMigrationLock(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := advisory(ctx, conn, "SELECT pg_advisory_lock($1)"); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = advisory(context.Background(), conn, "SELECT pg_advisory_unlock($1)")
	}()
	return fn(db.WithContext(ctx))
}

func advisory(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query, migrateLockID)
	return err
}
