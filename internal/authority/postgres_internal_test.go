package authority

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestBuildInsert(t *testing.T) {
	query, args, err := buildInsert("animals", map[string]any{
		"id":         "a1",
		"earTag":     "X001",
		"tags":       []any{"calf"},
		"updated_at": "ignored",
	})
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}
	want := `INSERT INTO "animals" AS t ("earTag", "id", "tags", "updated_at") VALUES ($1, $2, $3, now()) RETURNING row_to_json(t)`
	if query != want {
		t.Fatalf("query mismatch:\n got %s\nwant %s", query, want)
	}
	if len(args) != 3 || args[0] != "X001" || args[1] != "a1" || args[2] != `["calf"]` {
		t.Fatalf("unexpected args %#v", args)
	}
}

func TestBuildUpdate(t *testing.T) {
	query, args, err := buildUpdate("animals", "a1", map[string]any{"weight": 12, "id": "other"})
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}
	want := `UPDATE "animals" AS t SET "weight" = $1, "updated_at" = now() WHERE t.id = $2 RETURNING row_to_json(t)`
	if query != want {
		t.Fatalf("query mismatch:\n got %s\nwant %s", query, want)
	}
	if len(args) != 2 || args[0] != 12 || args[1] != "a1" {
		t.Fatalf("unexpected args %#v", args)
	}
}

func TestQuoteIdentRejectsInjection(t *testing.T) {
	for _, name := range []string{"animals; drop table x", "", "1abc", `a"b`} {
		if _, err := quoteIdent(name); CodeOf(err) != CodeValidation {
			t.Fatalf("quoteIdent(%q) should fail, got %v", name, err)
		}
	}
}

func TestClassifyPgError(t *testing.T) {
	cases := []struct {
		code string
		want Code
	}{
		{"23505", CodeConstraint},
		{"42501", CodePermission},
		{"22P02", CodeValidation},
		{"42P01", CodeValidation},
		{"08006", CodeNetwork},
		{"57P01", CodeNetwork},
	}
	for _, tc := range cases {
		err := classifyPgError("animals", "a1", &pgconn.PgError{Code: tc.code, Message: "x"})
		if err.Code != tc.want {
			t.Fatalf("code %s -> %s, want %s", tc.code, err.Code, tc.want)
		}
	}
	if got := classifyPgError("", "", errors.New("conn reset")); got.Code != CodeNetwork {
		t.Fatalf("plain errors should be network, got %s", got.Code)
	}
}
