package remote

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyPostgres(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"check violation", &pgconn.PgError{Code: "23514"}, KindRejected},
		{"invalid json", &pgconn.PgError{Code: "22P02"}, KindRejected},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, KindUnknown},
		{"plain error", errors.New("conn reset"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(classifyPostgres(tt.err)); got != tt.want {
				t.Fatalf("KindOf(classifyPostgres(%v)) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
