package app

import (
	"github.com/vk/pkgplan/internal/registry"
	"github.com/vk/pkgplan/modules/env_vars"
	"github.com/vk/pkgplan/modules/manifest"
	"github.com/vk/pkgplan/modules/print"
)

// coreModules is the definitive list of hook modules compiled into the
// pkgplan binary.
var coreModules = []registry.Module{
	&env_vars.Module{},
	&manifest.Module{},
	&print.Module{},
}
