package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"postgres", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"postgres other code", &pgconn.PgError{Code: "40001"}, false},
		{"mysql", errors.New("Error 1062: Duplicate entry"), true},
		{"sqlite", errors.New("UNIQUE constraint failed: meter_readings.id"), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	if _, err := Dialect(Config{Type: "oracle"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestNewTestIsolatesDatabases(t *testing.T) {
	first, err := NewTest()
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	second, err := NewTest()
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	if err := first.Exec("CREATE TABLE scratch (id INTEGER)").Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if !first.Migrator().HasTable("scratch") {
		t.Fatalf("expected scratch table in first db")
	}
	if second.Migrator().HasTable("scratch") {
		t.Fatalf("expected second db to be isolated")
	}
}
