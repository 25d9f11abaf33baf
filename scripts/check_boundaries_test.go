package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRepositoryHonorsLayerBoundaries(t *testing.T) {
	violations := collectViolations(filepath.Join("..", "contexts"))
	for _, v := range violations {
		t.Errorf("%s:%d imports %q (%s)", v.File, v.Line, v.Import, v.Rule)
	}
}

func TestDomainImportingAdapterIsReported(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "voting-core", "ballot-engine", "domain", "entities")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	source := `package entities

import (
	"time"

	"evoting/contexts/voting-core/ballot-engine/adapters/memory"
	"evoting/contexts/voting-core/other/domain/entities"
	"github.com/google/uuid"
)
`
	if err := os.WriteFile(filepath.Join(dir, "bad.go"), []byte(source), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	violations := collectViolations(root)
	rules := map[string]bool{}
	for _, v := range violations {
		rules[v.Rule] = true
	}
	for _, want := range []string{
		"domain must not import adapters",
		"cross-module imports are forbidden",
		"domain import is outside explicit allowlist",
	} {
		if !rules[want] {
			t.Fatalf("expected violation %q, got %+v", want, violations)
		}
	}
	for _, v := range violations {
		if v.Import == "time" {
			t.Fatalf("stdlib imports must pass, got %+v", v)
		}
	}
}
