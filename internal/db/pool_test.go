package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "postgres unique", err: fmt.Errorf("insert ingest batch: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "postgres other", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "gorm duplicated key", err: fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "no rows", err: ErrNoRows, want: false},
		{name: "plain", err: errors.New("connection reset"), want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsUniqueViolation(tc.err); got != tc.want {
				t.Fatalf("IsUniqueViolation(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}
