package infra

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	query := "\n  --sql 2a9d6e40-f3b7-4158-a0c2-98e1b5d7c364\nupdate case_requests set status = 'failed';\n"
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "2a9d6e40-f3b7-4158-a0c2-98e1b5d7c364" {
		t.Fatalf("marker = %q", marker)
	}
	if strings.Contains(body, "--sql") || !strings.HasPrefix(body, "update case_requests") {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  error
	}{
		{name: "empty", query: "  \n ", want: ErrEmptyQuery},
		{name: "no marker", query: "select 1", want: ErrMissingMarker},
		{name: "uppercase uuid", query: "--sql 2A9D6E40-F3B7-4158-A0C2-98E1B5D7C364\nselect 1", want: ErrMissingMarker},
		{name: "marker not first", query: "select 1\n--sql 2a9d6e40-f3b7-4158-a0c2-98e1b5d7c364", want: ErrMissingMarker},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := extractMarker(tc.query); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestErrorRowReturnsMarkerError(t *testing.T) {
	r := &SQLRunner{}
	var n int
	if err := r.QueryRow(context.Background(), "select 1").Scan(&n); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("Scan err = %v", err)
	}
}
