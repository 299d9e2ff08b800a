package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/devhost/internal/history/opensearch"
	"github.com/loykin/devhost/internal/history/sqlite"
)

func TestFactoryDSNTypes(t *testing.T) {
	file := filepath.Join(t.TempDir(), "h.db")
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"OpenSearch without host", "opensearch:///idx", true},
		{"SQLite file DSN", "sqlite://" + file, false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
		{"Bare SQLite path", file, false},
		{"OpenSearch DSN", "opensearch://localhost:9200/devhost", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSinkFromDSN(%q): %v", tt.dsn, err)
			}
			if sink == nil {
				t.Fatal("nil sink")
			}
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		})
	}
}

func TestFactorySelectsImplementation(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatal(err)
	}
	lite, ok := s.(*sqlite.Sink)
	if !ok {
		t.Fatalf("expected *sqlite.Sink, got %T", s)
	}
	_ = lite.Close()

	s, err = NewSinkFromDSN("elasticsearch://u:p@search:9200/")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*opensearch.Sink); !ok {
		t.Fatalf("expected *opensearch.Sink, got %T", s)
	}
}

func TestParseClickHouseDSN(t *testing.T) {
	o, err := parseClickHouseDSN("clickhouse://writer:pw@ch.internal:9440/metrics?table=runs")
	if err != nil {
		t.Fatal(err)
	}
	if o.Addr != "ch.internal:9440" || o.Database != "metrics" || o.Table != "runs" {
		t.Fatalf("unexpected target: %+v", o)
	}
	if o.Username != "writer" || o.Password != "pw" {
		t.Fatalf("credentials not parsed: %q %q", o.Username, o.Password)
	}

	o, err = parseClickHouseDSN("clickhouse://")
	if err != nil {
		t.Fatal(err)
	}
	if o.Addr != "localhost:9000" || o.Table != "" {
		t.Fatalf("unexpected defaults: %+v", o)
	}
}

func TestParseOpenSearchDSN(t *testing.T) {
	s, err := parseOpenSearchDSN("opensearch://search:9200?tls=true")
	if err != nil || s == nil {
		t.Fatalf("parseOpenSearchDSN: %v %v", s, err)
	}
}
