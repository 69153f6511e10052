package migrate_test

import (
	"context"
	"testing"

	"dealdesk/internal/db"
	"dealdesk/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := migrate.Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version = %d, %v", v, err)
	}
	first, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	second, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if first != second || first < 1 {
		t.Fatalf("versions %d then %d", first, second)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='negotiations'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("negotiations table missing: %d %v", n, err)
	}
}

func TestAvailableOrdered(t *testing.T) {
	ms, err := migrate.Available()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Version >= ms[i].Version {
			t.Fatalf("migrations out of order: %s before %s", ms[i-1].Name, ms[i].Name)
		}
	}
}
