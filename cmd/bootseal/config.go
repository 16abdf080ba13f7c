package main

import (
	"os"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/snapcore/bootseal/internal/paths"
	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

// config is the contents of the optional configuration file. Command
// line options take precedence over it.
type config struct {
	TPM       string            `yaml:"tpm"`
	Simulator string            `yaml:"simulator"`
	PCRAlg    string            `yaml:"pcr-alg"`
	CapPCR    *int              `yaml:"cap-pcr"`
	Vars      map[string]string `yaml:"vars"`

	pcrAlg tpm2.HashAlgorithmId
}

// loadConfig reads the configuration file at path. If path is empty, the
// default configuration file is read if it exists.
func loadConfig(path string) (*config, error) {
	explicit := path != ""
	if !explicit {
		path = paths.ConfigFile
	}

	cfg := new(config)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && !explicit:
	case err != nil:
		return nil, xerrors.Errorf("cannot read configuration: %w", err)
	default:
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, xerrors.Errorf("cannot parse configuration %s: %w", path, err)
		}
	}

	if cfg.pcrAlg, err = parsePCRAlg(cfg.PCRAlg); err != nil {
		return nil, xerrors.Errorf("invalid PCR algorithm in configuration: %w", err)
	}
	return cfg, nil
}

func parseAlg(s string) (tpm2.HashAlgorithmId, error) {
	switch strings.ToLower(s) {
	case "sha1":
		return tpm2.HashAlgorithmSHA1, nil
	case "", "sha256":
		return tpm2.HashAlgorithmSHA256, nil
	case "sha384":
		return tpm2.HashAlgorithmSHA384, nil
	case "sha512":
		return tpm2.HashAlgorithmSHA512, nil
	default:
		return tpm2.HashAlgorithmNull, xerrors.Errorf("unknown digest algorithm %q", s)
	}
}

// parsePCRAlg parses the algorithm of the PCR bank that policies are
// bound to. Only SHA-1 and SHA-256 policy sessions are supported.
func parsePCRAlg(s string) (tpm2.HashAlgorithmId, error) {
	alg, err := parseAlg(s)
	if err != nil {
		return tpm2.HashAlgorithmNull, err
	}
	switch alg {
	case tpm2.HashAlgorithmSHA1, tpm2.HashAlgorithmSHA256:
		return alg, nil
	default:
		return tpm2.HashAlgorithmNull, xerrors.Errorf("digest algorithm %q cannot be used for PCR policies", s)
	}
}

// parseVarValue decodes the value of a variable override, which is
// either hex or @ followed by the path of a file to read it from.
func parseVarValue(value string) ([]byte, error) {
	if strings.HasPrefix(value, "@") {
		data, err := os.ReadFile(value[1:])
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return sealing.HexToBinary(value)
}

// makeVars builds the override table from the configuration file and
// then the --var options, so that an option replaces a configured value
// with the same name.
func makeVars(cfg *config, overrides []string) (*measure.Vars, error) {
	vars := new(measure.Vars)

	var names []string
	for name := range cfg.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := parseVarValue(cfg.Vars[name])
		if err != nil {
			return nil, xerrors.Errorf("invalid value for variable %s in configuration: %w", name, err)
		}
		vars.Set(name, data)
	}

	for _, o := range overrides {
		name, value, ok := strings.Cut(o, "=")
		if !ok || name == "" {
			return nil, xerrors.Errorf("invalid variable override %q: expected NAME=HEX or NAME=@FILE", o)
		}
		data, err := parseVarValue(value)
		if err != nil {
			return nil, xerrors.Errorf("invalid value for variable %s: %w", name, err)
		}
		vars.Set(name, data)
	}

	return vars, nil
}
