package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load reads the TOML configuration at path, recursively merging any
// files named in its include directive, and validates every document
// strictly (unknown keys are rejected), matching
// original_source/acmed/src/config.rs's read_cnf/from_file.
func Load(path string) (*Config, error) {
	loaded := map[string]bool{}
	cfg, err := readOne(path, loaded)
	if err != nil {
		return nil, err
	}
	dispatchGlobalEnv(cfg)
	return cfg, nil
}

func readOne(path string, loaded map[string]bool) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if loaded[abs] {
		return &Config{}, nil
	}
	loaded[abs] = true

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	var cfg Config
	meta, err := toml.Decode(string(raw), &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown configuration key %q", abs, undecoded[0].String())
	}

	for _, id := range cfg.Certificates {
		for _, ident := range id.Identifiers {
			if err := ident.validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", abs, err)
			}
		}
	}

	for _, pattern := range cfg.Include {
		matches, err := expandInclude(abs, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			included, err := readOne(m, loaded)
			if err != nil {
				return nil, err
			}
			mergeInto(&cfg, included)
		}
	}

	return &cfg, nil
}

func expandInclude(from, pattern string) ([]string, error) {
	dir := filepath.Dir(from)
	full := filepath.Join(dir, pattern)
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid include pattern: %w", pattern, err)
	}
	return matches, nil
}

func mergeInto(dst *Config, src *Config) {
	dst.Endpoints = append(dst.Endpoints, src.Endpoints...)
	dst.RateLimits = append(dst.RateLimits, src.RateLimits...)
	dst.Hooks = append(dst.Hooks, src.Hooks...)
	dst.Groups = append(dst.Groups, src.Groups...)
	dst.Accounts = append(dst.Accounts, src.Accounts...)
	dst.Certificates = append(dst.Certificates, src.Certificates...)

	if dst.Global == nil {
		dst.Global = src.Global
		return
	}
	if src.Global == nil {
		return
	}
	mergeGlobal(dst.Global, src.Global)
}

// mergeGlobal fills the unset directory, file mode, owner, group and
// extension fields of dst from src, matching config.rs's set_cfg_attr!
// merge semantics: the primary file's settings win, included files only
// fill gaps. The remaining global fields (file_name_format, renew_delay
// and the like) are not merged and keep dst's values.
func mergeGlobal(dst, src *GlobalOptions) {
	if dst.AccountsDirectory == nil {
		dst.AccountsDirectory = src.AccountsDirectory
	}
	if dst.CertificatesDirectory == nil {
		dst.CertificatesDirectory = src.CertificatesDirectory
	}
	if dst.CertFileMode == nil {
		dst.CertFileMode = src.CertFileMode
	}
	if dst.CertFileUser == nil {
		dst.CertFileUser = src.CertFileUser
	}
	if dst.CertFileGroup == nil {
		dst.CertFileGroup = src.CertFileGroup
	}
	if dst.CertFileExt == nil {
		dst.CertFileExt = src.CertFileExt
	}
	if dst.PKFileMode == nil {
		dst.PKFileMode = src.PKFileMode
	}
	if dst.PKFileUser == nil {
		dst.PKFileUser = src.PKFileUser
	}
	if dst.PKFileGroup == nil {
		dst.PKFileGroup = src.PKFileGroup
	}
	if dst.PKFileExt == nil {
		dst.PKFileExt = src.PKFileExt
	}
}

// dispatchGlobalEnv copies global.env into every certificate's Env map,
// without overwriting keys the certificate already sets, matching
// config.rs's dispatch_global_env_vars.
func dispatchGlobalEnv(cfg *Config) {
	if cfg.Global == nil || len(cfg.Global.Env) == 0 {
		return
	}
	for i := range cfg.Certificates {
		merged := make(map[string]string, len(cfg.Global.Env)+len(cfg.Certificates[i].Env))
		for k, v := range cfg.Global.Env {
			merged[k] = v
		}
		for k, v := range cfg.Certificates[i].Env {
			merged[k] = v
		}
		cfg.Certificates[i].Env = merged
	}
}
