package main

import (
	"strings"
	"testing"
)

func TestArchiveQueriesCarryUniqueMarkers(t *testing.T) {
	findings, err := newLinter().lintPath("../../sqlinline")
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, f := range findings {
		t.Errorf("%s", f)
	}
}

func TestLintSourceReportsMissingAndReusedMarkers(t *testing.T) {
	src := "package q\n\n" +
		"const A = `--sql 3d7c1f52-8a4e-4b19-a6d2-0e9b5c7f2a81\nselect 1`\n" +
		"const B = `select 2`\n" +
		"const C = `--sql 3d7c1f52-8a4e-4b19-a6d2-0e9b5c7f2a81\ndelete from t`\n" +
		"const D = \"not a query\"\n"
	findings, err := newLinter().lintSource("q.go", []byte(src))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %v", findings)
	}
	if findings[0].name != "B" || !strings.Contains(findings[0].message, "missing") {
		t.Fatalf("first finding = %s", findings[0])
	}
	if findings[1].name != "C" || !strings.Contains(findings[1].message, "reused from q.go:3") {
		t.Fatalf("second finding = %s", findings[1])
	}
}
