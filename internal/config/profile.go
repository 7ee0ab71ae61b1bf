package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pkgplan/internal/ctxlog"
	"github.com/vk/pkgplan/internal/depgraph"
	"github.com/vk/pkgplan/internal/hclutil"
)

type profileFile struct {
	Settings cty.Value `hcl:"settings,optional"`
	Options  cty.Value `hcl:"options,optional"`
	Workers  *int      `hcl:"workers,optional"`
	FailFast *bool     `hcl:"fail_fast,optional"`
	Remotes  []string  `hcl:"remotes,optional"`
}

// Profile is what the user asks for in one run.
type Profile struct {
	Settings map[string]string
	// Options keys are "pkg:option" or a bare option name.
	Options map[string]string
	// Workers is 0 when the profile does not set it.
	Workers  int
	FailFast bool
	// Remotes are recipe directories consulted after the local ones.
	Remotes []string
}

// LoadProfile reads an HCL profile:
//
//	settings  = { os = "Linux", build_type = "Release" }
//	options   = { "zlib:shared" = true }
//	workers   = 4
//	fail_fast = false
//	remotes   = ["./remote-recipes"]
func LoadProfile(ctx context.Context, path string) (*Profile, error) {
	var raw profileFile
	if err := hclutil.DecodeFile(hclparse.NewParser(), path, &raw); err != nil {
		return nil, err
	}
	p, err := translateProfile(&raw)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	ctxlog.FromContext(ctx).Debug("Profile loaded.", "path", path, "settings", len(p.Settings), "options", len(p.Options))
	return p, nil
}

// ParseProfile is LoadProfile for in-memory source.
func ParseProfile(src []byte, filename string) (*Profile, error) {
	var raw profileFile
	if err := hclutil.DecodeSource(src, filename, &raw); err != nil {
		return nil, err
	}
	p, err := translateProfile(&raw)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", filename, err)
	}
	return p, nil
}

func translateProfile(raw *profileFile) (*Profile, error) {
	settings, err := hclutil.StringMap(raw.Settings)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	options, err := hclutil.StringMap(raw.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	p := &Profile{Settings: settings, Options: normalizeBools(options), Remotes: raw.Remotes}
	if raw.Workers != nil {
		if *raw.Workers < 1 {
			return nil, fmt.Errorf("workers must be positive, got %d", *raw.Workers)
		}
		p.Workers = *raw.Workers
	}
	if raw.FailFast != nil {
		p.FailFast = *raw.FailFast
	}
	return p, nil
}

// normalizeBools maps HCL booleans onto the "True"/"False" spelling recipes
// use for option values.
func normalizeBools(m map[string]string) map[string]string {
	for k, v := range m {
		switch v {
		case "true":
			m[k] = "True"
		case "false":
			m[k] = "False"
		}
	}
	return m
}

// Graph returns the part of the profile the graph builder consumes.
func (p *Profile) Graph() depgraph.Profile {
	if p == nil {
		return depgraph.Profile{}
	}
	return depgraph.Profile{Settings: p.Settings, Options: p.Options}
}
