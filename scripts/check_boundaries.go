package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "evoting"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

type layerRule struct {
	name    string
	allowed []string
}

func main() {
	root := "contexts"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	violations := collectViolations(root)
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

// collectViolations walks root, a contexts directory laid out as
// <context>/<module>/<layer>/..., and checks every non-test import.
func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 4 {
			return nil
		}
		modulePrefix := fmt.Sprintf("%s/contexts/%s/%s", modulePath, parts[0], parts[1])
		violations = append(violations, validateFile(path, "contexts/"+filepath.ToSlash(rel), parts[2], modulePrefix)...)
		return nil
	})

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File == violations[j].File {
			if violations[i].Line == violations[j].Line {
				return violations[i].Import < violations[j].Import
			}
			return violations[i].Line < violations[j].Line
		}
		return violations[i].File < violations[j].File
	})
	return violations
}

func rulesFor(layer string, modulePrefix string) (layerRule, bool) {
	switch layer {
	case "domain":
		return layerRule{
			name:    "domain",
			allowed: []string{modulePrefix + "/domain"},
		}, true
	case "ports":
		return layerRule{
			name: "ports",
			allowed: []string{
				modulePrefix + "/domain",
				modulePath + "/internal/shared",
			},
		}, true
	case "application":
		return layerRule{
			name: "application",
			allowed: []string{
				modulePrefix + "/application",
				modulePrefix + "/domain",
				modulePrefix + "/ports",
				modulePath + "/internal/shared",
				"github.com/cenkalti/backoff/v4",
				"github.com/prometheus/client_golang",
			},
		}, true
	default:
		return layerRule{}, false
	}
}

func validateFile(path string, normalizedPath string, layer string, modulePrefix string) []violation {
	var violations []violation

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return append(violations, violation{
			File: normalizedPath,
			Line: 1,
			Rule: "file must parse",
		})
	}

	rule, checked := rulesFor(layer, modulePrefix)
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		line := fset.Position(imp.Pos()).Line

		if hasPrefix(importPath, modulePath+"/contexts") && !hasPrefix(importPath, modulePrefix) {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   line,
				Import: importPath,
				Rule:   "cross-module imports are forbidden",
			})
		}
		if !checked {
			continue
		}
		if strings.Contains(importPath, "/adapters/") {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   line,
				Import: importPath,
				Rule:   rule.name + " must not import adapters",
			})
			continue
		}
		if hasPrefix(importPath, modulePath+"/internal/platform") || hasPrefix(importPath, modulePath+"/internal/app") {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   line,
				Import: importPath,
				Rule:   rule.name + " must not import runtime infrastructure",
			})
			continue
		}
		if !isStdlib(importPath) && !isAllowed(importPath, rule.allowed) {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   line,
				Import: importPath,
				Rule:   rule.name + " import is outside explicit allowlist",
			})
		}
	}

	return violations
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, allowedPrefixes []string) bool {
	for _, p := range allowedPrefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first := importPath
	if idx := strings.Index(first, "/"); idx != -1 {
		first = first[:idx]
	}
	return !strings.Contains(first, ".")
}
