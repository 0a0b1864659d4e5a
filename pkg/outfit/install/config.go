package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// Distribution layout.
const (
	// CoreUnit names the core distribution in results and manifests.
	CoreUnit = "core"

	// CoreDir is the core distribution's directory under the source root.
	CoreDir = "core"
)

// InstallConfig is one install request.
type InstallConfig struct {
	// Source is the distribution root holding core/ and expansion-packs/.
	Source string `json:"source" yaml:"source" validate:"required"`

	// Directory is the installation target.
	Directory string `json:"directory" yaml:"directory" validate:"required"`

	// ExpansionPacks lists the pack ids to install alongside core.
	ExpansionPacks []string `json:"expansion_packs,omitempty" yaml:"expansion_packs,omitempty" validate:"dive,required,excludesall=/\\"`

	// NoCore installs only the requested packs.
	NoCore bool `json:"no_core,omitempty" yaml:"no_core,omitempty"`

	// Integrations names registered integrations to set up after install.
	Integrations []string `json:"integrations,omitempty" yaml:"integrations,omitempty" validate:"dive,required"`

	// Algorithm is the manifest checksum algorithm. Empty means sha256.
	Algorithm manifest.Algorithm `json:"algorithm,omitempty" yaml:"algorithm,omitempty" validate:"omitempty,oneof=sha256 blake3"`

	// Skip adds patterns to the default skip list.
	Skip []string `json:"skip,omitempty" yaml:"skip,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize validates c and returns a copy with absolute paths and defaults
// filled in. Every failure is an *errs.ConfigError.
func (c InstallConfig) normalize(registered map[string]Integration) (InstallConfig, *manifest.SkipList, error) {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return c, nil, &errs.ConfigError{
				Field:  strings.TrimPrefix(fe.Namespace(), "InstallConfig."),
				Reason: fmt.Sprintf("fails %q validation", fe.ActualTag()),
				Err:    err,
			}
		}
		return c, nil, &errs.ConfigError{Reason: err.Error(), Err: err}
	}

	out := c
	out.ExpansionPacks = append([]string(nil), c.ExpansionPacks...)
	out.Integrations = append([]string(nil), c.Integrations...)
	if out.Algorithm == "" {
		out.Algorithm = manifest.AlgorithmSHA256
	}

	var err error
	if out.Source, err = filepath.Abs(c.Source); err != nil {
		return c, nil, &errs.ConfigError{Field: "source", Reason: "cannot resolve path", Err: err}
	}
	if out.Directory, err = filepath.Abs(c.Directory); err != nil {
		return c, nil, &errs.ConfigError{Field: "directory", Reason: "cannot resolve path", Err: err}
	}

	if info, err := os.Stat(out.Source); err != nil || !info.IsDir() {
		return c, nil, &errs.ConfigError{Field: "source", Reason: out.Source + " is not a directory", Err: err}
	}
	if info, err := os.Stat(out.Directory); err == nil && !info.IsDir() {
		return c, nil, &errs.ConfigError{Field: "directory", Reason: out.Directory + " exists and is not a directory"}
	}
	if within(out.Directory, out.Source) {
		return c, nil, &errs.ConfigError{Field: "directory", Reason: "must not be inside the source"}
	}

	if out.NoCore && len(out.ExpansionPacks) == 0 {
		return c, nil, &errs.ConfigError{Field: "expansion_packs", Reason: "nothing to install without core"}
	}
	if !out.NoCore {
		if info, err := os.Stat(filepath.Join(out.Source, CoreDir)); err != nil || !info.IsDir() {
			return c, nil, &errs.ConfigError{Field: "source", Reason: "no " + CoreDir + " directory in " + out.Source, Err: err}
		}
	}

	seen := make(map[string]bool, len(out.ExpansionPacks))
	for _, id := range out.ExpansionPacks {
		if id == "." || id == ".." || id == CoreUnit {
			return c, nil, &errs.ConfigError{Field: "expansion_packs", Reason: fmt.Sprintf("invalid pack id %q", id)}
		}
		if seen[id] {
			return c, nil, &errs.ConfigError{Field: "expansion_packs", Reason: fmt.Sprintf("pack %q listed twice", id)}
		}
		seen[id] = true
		dir := filepath.Join(out.Source, detect.PacksDir, id)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return c, nil, &errs.ConfigError{Field: "expansion_packs", Reason: fmt.Sprintf("unknown pack %q", id), Err: err}
		}
	}

	for _, name := range out.Integrations {
		if _, ok := registered[name]; !ok {
			return c, nil, &errs.ConfigError{Field: "integrations", Reason: fmt.Sprintf("unknown integration %q", name)}
		}
	}

	skip, err := manifest.NewSkipList(out.Skip...)
	if err != nil {
		return c, nil, &errs.ConfigError{Field: "skip", Reason: "invalid pattern", Err: err}
	}
	return out, skip, nil
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
