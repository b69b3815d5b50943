package dictionary

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the top-level structure of a dictionary seed YAML file.
//
// Example:
//
//	scope: ""            # empty = global dictionary
//	entries:
//	  - category: person
//	    original: "아브라힘"
//	    replacement: "아브라함"
//	    description: "common mishearing of Abraham"
//	    priority: 10
type SeedFile struct {
	// Scope is the target scope for every row: [GlobalScope] or a tenant ID.
	Scope string `yaml:"scope"`

	// Entries are the seed rows to load.
	Entries []SeedRow `yaml:"entries"`
}

// SeedFailure reports one seed row that could not be loaded.
type SeedFailure struct {
	// Original is the wrong_text of the failed row.
	Original string

	// Err is the load error for this row.
	Err error
}

// SeedResult summarises a bulk seed import.
type SeedResult struct {
	// Inserted counts rows that created new dictionary entries.
	Inserted int

	// Updated counts rows that refreshed existing entries.
	Updated int

	// Failures lists rows that could not be loaded. The import continues
	// past failures; successfully loaded rows are never rolled back.
	Failures []SeedFailure
}

// LoadSeedFile reads and parses a dictionary seed YAML file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary: open seed file %q: %w", path, err)
	}
	defer f.Close()

	sf, err := LoadSeedFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("dictionary: parse seed file %q: %w", path, err)
	}
	return sf, nil
}

// LoadSeedFromReader parses seed YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadSeedFromReader(r io.Reader) (*SeedFile, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("dictionary: decode seed yaml: %w", err)
	}
	return &sf, nil
}

// ImportSeedFile loads all rows from a parsed [SeedFile] into store with a
// continue-on-error policy: one failing row does not abort the import.
func ImportSeedFile(ctx context.Context, store Store, sf *SeedFile) (SeedResult, error) {
	if sf == nil {
		return SeedResult{}, fmt.Errorf("dictionary: seed file must not be nil")
	}

	var res SeedResult
	for _, row := range sf.Entries {
		inserted, err := store.ImportSeed(ctx, sf.Scope, row)
		if err != nil {
			res.Failures = append(res.Failures, SeedFailure{Original: row.Original, Err: err})
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}
