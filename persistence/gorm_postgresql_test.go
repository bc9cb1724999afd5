package persistence

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/wfunc/srtgame/models"
)

// dryRunStore builds statements without a database.
func dryRunStore(t *testing.T) *GormPostgreSQL {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=srt dbname=srtgame sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return &GormPostgreSQL{db: db}
}

func TestGormPostgreSQL_JoinIsUpsert(t *testing.T) {
	p := dryRunStore(t)
	member := &models.GormMember{UUID: "p1", Online: true}

	stmt := p.upsert(context.Background(), member, map[string]interface{}{"online": true}).Statement
	sql := stmt.SQL.String()

	if !strings.Contains(sql, `INSERT INTO "members"`) {
		t.Errorf("unexpected insert: %s", sql)
	}
	if !strings.Contains(sql, `ON CONFLICT ("uuid") DO UPDATE SET`) {
		t.Errorf("join must upsert on uuid: %s", sql)
	}
}

func TestGormPostgreSQL_RecordDryRun(t *testing.T) {
	p := dryRunStore(t)
	ctx := context.Background()

	if err := p.RecordJoin(ctx, "p1"); err != nil {
		t.Errorf("RecordJoin: %v", err)
	}
	if err := p.RecordLeave(ctx, "p1"); err != nil {
		t.Errorf("RecordLeave: %v", err)
	}
	if err := p.ResetOnline(ctx); err != nil {
		t.Errorf("ResetOnline: %v", err)
	}
}

// TestGormPostgreSQL_Live runs against a real database when
// SRT_TEST_POSTGRES_DSN is set.
func TestGormPostgreSQL_Live(t *testing.T) {
	dsn := os.Getenv("SRT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SRT_TEST_POSTGRES_DSN not set")
	}
	store, err := NewGormPostgreSQL(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	id := "live-" + t.Name()

	// Joining twice is the redelivery case and must not fail.
	for i := 0; i < 2; i++ {
		if err := store.RecordJoin(ctx, id); err != nil {
			t.Fatalf("RecordJoin #%d: %v", i, err)
		}
	}
	member, err := store.Member(ctx, id)
	if err != nil || !member.Online {
		t.Fatalf("member after join = %+v, %v", member, err)
	}

	if err := store.RecordLeave(ctx, id); err != nil {
		t.Fatalf("RecordLeave: %v", err)
	}
	member, err = store.Member(ctx, id)
	if err != nil || member.Online || member.LeftAt == nil {
		t.Fatalf("member after leave = %+v, %v", member, err)
	}

	if _, err := store.Member(ctx, "never-joined"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}
