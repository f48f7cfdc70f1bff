// Package scaffold is conductor's project bootstrap: `conductor init`
// deterministically writes a starter .conductor/config.yaml plus six
// default prompt templates (plan, implement, the two reviews, verify,
// complete). This is a fixed
// template writer rather than an AI-generation round trip — drafting a
// config from gathered project context is exactly the kind of
// documentation-discovery pass this project treats as peripheral, so
// there is nothing here to gather context from or retry against a flaky
// model.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conductor-sdlc/conductor/internal/ux"
)

// Init creates a new .conductor/ directory with a starter config and
// default prompt templates. It refuses to run if .conductor already
// exists.
func Init(ctx context.Context, targetDir string) error {
	conductorDir := filepath.Join(targetDir, ".conductor")
	if _, err := os.Stat(conductorDir); err == nil {
		return fmt.Errorf(".conductor directory already exists in %s", targetDir)
	}

	written, err := writeStarterFiles(targetDir)
	if err != nil {
		return err
	}

	printSuccess(written)
	fmt.Printf("\n  %sEdit .conductor/config.yaml to bind real agent binaries, then:%s\n", ux.Dim, ux.Reset)
	fmt.Printf("\n  Next: %sconductor start <project> \"<feature request>\"%s\n\n", ux.Cyan, ux.Reset)
	return nil
}

// writeStarterFiles writes the config and prompt template files and
// returns the list of paths created, relative to targetDir.
func writeStarterFiles(targetDir string) ([]string, error) {
	files := map[string]string{
		".conductor/config.yaml":                    starterConfig,
		".conductor/prompts/plan.md":                planPromptTemplate,
		".conductor/prompts/implement.md":           implementPromptTemplate,
		".conductor/prompts/review_security.md":     reviewSecurityPromptTemplate,
		".conductor/prompts/review_architecture.md": reviewArchitecturePromptTemplate,
		".conductor/prompts/verify.md":              verifyPromptTemplate,
		".conductor/prompts/complete.md":             completePromptTemplate,
	}

	var written []string
	for relPath, content := range files {
		fullPath := filepath.Join(targetDir, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", relPath, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", relPath, err)
		}
		written = append(written, relPath)
	}

	gitignorePath := filepath.Join(targetDir, ".conductor", ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(starterGitignore), 0644); err != nil {
		return nil, fmt.Errorf("writing .conductor/.gitignore: %w", err)
	}
	written = append(written, ".conductor/.gitignore")

	return written, nil
}

func printSuccess(written []string) {
	fmt.Printf("\n%s%s  ✓ Initialized .conductor/ directory%s\n\n", ux.Bold, ux.Green, ux.Reset)
	fmt.Printf("  Created:\n")
	for _, path := range written {
		fmt.Printf("    %s%s%s\n", ux.Cyan, path, ux.Reset)
	}
}
