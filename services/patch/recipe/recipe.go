// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recipe loads YAML patch recipes.
//
// A recipe names one target file and the steps to run against it:
//
//	target: src/components/Highlights.tsx
//	encoding: utf-8
//	splice:
//	  start: "<section className=\"highlights\""
//	  end: "</section>"
//	  replacement_file: highlights.block.tsx
//	rules:
//	  - name: import-prefix
//	    match: "./src/"
//	    replace: "../"
//	mojibake: true
//	strip_marker: true
//
// Relative paths in target and replacement_file resolve against the
// directory holding the recipe.
package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/anchorfix/services/patch"
	"github.com/AleutianAI/anchorfix/services/patch/cleanup"
	"github.com/AleutianAI/anchorfix/services/patch/splice"
)

// MaxReplacementFileSize caps replacement_file reads.
const MaxReplacementFileSize = 1024 * 1024 // 1MB

var (
	// ErrInvalidRecipe indicates a recipe that parsed but failed validation.
	ErrInvalidRecipe = errors.New("invalid recipe")

	// ErrParse indicates malformed YAML or unknown fields.
	ErrParse = errors.New("malformed recipe")
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// recipeValidate is the validator instance for recipes.
// Initialized in init() with custom validators.
var recipeValidate *validator.Validate

func init() {
	recipeValidate = validator.New()

	_ = recipeValidate.RegisterValidation("anchor", validateAnchor)
	_ = recipeValidate.RegisterValidation("boundary", validateBoundary)
}

// validateAnchor rejects anchors that are empty or only whitespace. A
// whitespace-only anchor matches almost anywhere, which is never intended.
func validateAnchor(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateBoundary accepts the names splice.ParseBoundary understands.
func validateBoundary(fl validator.FieldLevel) bool {
	_, err := splice.ParseBoundary(fl.Field().String())
	return err == nil
}

// =============================================================================
// Types
// =============================================================================

// Recipe is one patch run described in YAML.
type Recipe struct {
	// Target is the file to patch.
	Target string `yaml:"target" validate:"required"`

	// Encoding is the target's declared encoding. Default: utf-8.
	Encoding string `yaml:"encoding,omitempty"`

	// Splice, if present, replaces the region between two anchors.
	Splice *Splice `yaml:"splice,omitempty" validate:"omitempty"`

	// Rules are literal or regexp substitutions applied after the splice.
	Rules []cleanup.Rule `yaml:"rules,omitempty" validate:"dive"`

	// Mojibake enables the Windows-1252 mojibake repair rules.
	Mojibake bool `yaml:"mojibake,omitempty"`

	// StripMarker truncates at the first trailing patch marker.
	StripMarker bool `yaml:"strip_marker,omitempty"`

	// DryRun computes the diff without writing.
	DryRun bool `yaml:"dry_run,omitempty"`

	// Path is the absolute path the recipe was loaded from. Not serialized.
	Path string `yaml:"-"`
}

// Splice is the recipe form of patch.SpliceStep.
type Splice struct {
	Start string `yaml:"start" validate:"anchor"`
	End   string `yaml:"end" validate:"anchor"`

	// Replacement is inserted verbatim. May be empty, which deletes the span.
	Replacement string `yaml:"replacement,omitempty"`

	// ReplacementFile loads the replacement from a file instead. Read
	// as raw bytes and inserted without decoding.
	ReplacementFile string `yaml:"replacement_file,omitempty" validate:"omitempty,excluded_with=Replacement"`

	// Boundary is "inclusive-start" (default) or "keep-start".
	Boundary string `yaml:"boundary,omitempty" validate:"omitempty,boundary"`
}

// =============================================================================
// Loading
// =============================================================================

// Load reads, validates and resolves the recipe at path.
//
// # Outputs
//
//   - *Recipe: Target and ReplacementFile are absolute. If ReplacementFile
//     was set, Replacement holds its content.
//   - error: Wraps ErrParse, ErrInvalidRecipe or an I/O error.
func Load(path string) (*Recipe, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving recipe path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the recipe %w", err)
	}

	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	r.Path = absPath

	if err := r.resolve(filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return r, nil
}

// Parse decodes and validates a recipe without touching the filesystem.
// Relative paths are left as written.
func Parse(data []byte) (*Recipe, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Recipe
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrParse)
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks struct tags and that the recipe has at least one step.
func (r *Recipe) Validate() error {
	if err := recipeValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidRecipe, describe(verrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	if r.Splice == nil && len(r.Rules) == 0 && !r.Mojibake && !r.StripMarker {
		return fmt.Errorf("%w: %v", ErrInvalidRecipe, patch.ErrNoSteps)
	}
	return nil
}

// resolve makes paths absolute against dir and loads replacement_file.
func (r *Recipe) resolve(dir string) error {
	r.Target = resolvePath(dir, r.Target)
	if r.Splice == nil || r.Splice.ReplacementFile == "" {
		return nil
	}

	r.Splice.ReplacementFile = resolvePath(dir, r.Splice.ReplacementFile)
	info, err := os.Stat(r.Splice.ReplacementFile)
	if err != nil {
		return fmt.Errorf("replacement_file: %w", err)
	}
	if info.Size() > MaxReplacementFileSize {
		return fmt.Errorf("replacement_file too large (%d bytes, max %d)", info.Size(), MaxReplacementFileSize)
	}
	data, err := os.ReadFile(r.Splice.ReplacementFile)
	if err != nil {
		return fmt.Errorf("replacement_file: %w", err)
	}
	r.Splice.Replacement = string(data)
	return nil
}

// Job converts the recipe into a runnable job.
func (r *Recipe) Job() (patch.Job, error) {
	job := patch.Job{
		Path:        r.Target,
		Encoding:    r.Encoding,
		Rules:       r.Rules,
		Mojibake:    r.Mojibake,
		StripMarker: r.StripMarker,
		DryRun:      r.DryRun,
	}
	if r.Splice != nil {
		boundary, err := splice.ParseBoundary(r.Splice.Boundary)
		if err != nil {
			return patch.Job{}, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
		}
		job.Splice = &patch.SpliceStep{
			Start:       r.Splice.Start,
			End:         r.Splice.End,
			Replacement: r.Splice.Replacement,
			Boundary:    boundary,
		}
	}
	if err := job.Validate(); err != nil {
		return patch.Job{}, fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}
	return job, nil
}

// resolvePath joins p to dir unless p is absolute.
func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// describe renders validation errors as "field: rule" pairs.
func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Recipe.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
