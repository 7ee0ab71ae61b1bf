// Package hclutil collects the HCL plumbing shared by the recipe, settings
// and profile loaders: file discovery, parsing and cty value conversion.
package hclutil

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// FindFiles walks all given paths and returns a sorted, de-duplicated list
// of .hcl files. Paths that do not exist are skipped.
func FindFiles(paths ...string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			files = append(files, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(files)
	return files, nil
}

// DecodeFile parses one HCL file and decodes its body into target, which
// must be a pointer to a struct with hcl tags.
func DecodeFile(parser *hclparse.Parser, path string, target any) error {
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return DecodeBody(file.Body, path, target)
}

// DecodeSource is DecodeFile for in-memory source.
func DecodeSource(src []byte, filename string, target any) error {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL %s: %w", filename, diags)
	}
	return DecodeBody(file.Body, filename, target)
}

func DecodeBody(body hcl.Body, filename string, target any) error {
	if diags := gohcl.DecodeBody(body, nil, target); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL %s: %w", filename, diags)
	}
	return nil
}
