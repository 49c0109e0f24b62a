package database

import "testing"

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/polls?sslmode=disable":   "pgx5://u:p@db:5432/polls?sslmode=disable",
		"postgresql://u:p@db:5432/polls?sslmode=disable": "pgx5://u:p@db:5432/polls?sslmode=disable",
		"pgx5://u@db/polls":                              "pgx5://u@db/polls",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Fatalf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	for _, name := range []string{"migrations/000001_init.up.sql", "migrations/000001_init.down.sql"} {
		if _, err := migrationsFS.ReadFile(name); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}
