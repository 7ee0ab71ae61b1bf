package settings

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/hclutil"
)

type schemaFile struct {
	Settings []*settingBlock `hcl:"setting,block"`
	Remain   hcl.Body        `hcl:",remain"`
}

type settingBlock struct {
	Name    string   `hcl:"name,label"`
	Values  []string `hcl:"values,optional"`
	Default string   `hcl:"default,optional"`
}

// LoadSchema reads setting blocks from every .hcl file under the given
// paths:
//
//	setting "build_type" {
//	  values  = ["Debug", "Release"]
//	  default = "Release"
//	}
func LoadSchema(ctx context.Context, paths ...string) (*Schema, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := hclutil.FindFiles(paths...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("settings: no schema files found in %v", paths)
	}

	parser := hclparse.NewParser()
	var defs []Definition
	for _, f := range files {
		var root schemaFile
		if err := hclutil.DecodeFile(parser, f, &root); err != nil {
			return nil, err
		}
		for _, b := range root.Settings {
			defs = append(defs, Definition{Name: b.Name, Values: b.Values, Default: b.Default})
		}
	}

	schema, err := NewSchema(defs...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Settings schema loaded.", "files", len(files), "settings", len(defs))
	return schema, nil
}
