package database

import "testing"

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/lg?sslmode=disable": "pgx5://u:p@db:5432/lg?sslmode=disable",
		"postgresql://u:p@db:5432/lg":               "pgx5://u:p@db:5432/lg",
		"pgx5://u:p@db:5432/lg":                     "pgx5://u:p@db:5432/lg",
	}
	for in, want := range tests {
		if got := MigrateURL(in); got != want {
			t.Errorf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}
