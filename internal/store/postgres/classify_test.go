package postgres

import (
	"errors"
	"testing"

	"qms/branch-queue/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"serialization", &pgconn.PgError{Code: "40001"}, store.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrConflict},
		{"unique", &pgconn.PgError{Code: "23505"}, store.ErrConflict},
		{"check violation", &pgconn.PgError{Code: "23514"}, store.ErrStorage},
		{"plain", errors.New("connection reset"), store.ErrStorage},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("expected original error to stay wrapped")
			}
		})
	}
	if classify(nil) != nil {
		t.Fatalf("expected nil for nil")
	}
}
