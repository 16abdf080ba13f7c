package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	efi "github.com/canonical/go-efilib"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/tpm2_device"
	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/policy"
	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

var (
	rootFS fs.FS = os.DirFS("/")

	varContext = func() context.Context {
		return efi.WithDefaultVarsBackend(context.Background())
	}

	openTPM = func(devicePath, simulatorPath string) (*tpm2.TPMContext, error) {
		var dev tpm2_device.TPMDevice
		switch {
		case simulatorPath != "":
			dev = tpm2_device.NewSimulatorDevice(simulatorPath)
		case devicePath != "":
			dev = tpm2_device.NewLinuxDevice(devicePath)
		default:
			var err error
			dev, err = tpm2_device.DefaultDevice(tpm2_device.DeviceModeTryResourceManaged)
			if err != nil {
				return nil, err
			}
		}
		logrus.WithField("device", dev.String()).Debug("opening TPM")
		return dev.Open()
	}
)

// env is the state shared by the commands. It is assembled from the
// global options and the configuration file.
type env struct {
	ctx  context.Context
	cfg  *config
	alg  tpm2.HashAlgorithmId
	vars *measure.Vars
	tpm  *tpm2.TPMContext
}

func newEnv() (*env, error) {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	vars, err := makeVars(cfg, opts.Vars)
	if err != nil {
		return nil, err
	}
	return &env{
		ctx:  varContext(),
		cfg:  cfg,
		alg:  cfg.pcrAlg,
		vars: vars,
	}, nil
}

// openTPM connects to the TPM selected by the options, or else by the
// configuration file. The connection is closed by close.
func (e *env) openTPM() (*tpm2.TPMContext, error) {
	if e.tpm != nil {
		return e.tpm, nil
	}

	devicePath := opts.TPM
	simulatorPath := opts.Simulator
	if devicePath == "" && simulatorPath == "" {
		devicePath = e.cfg.TPM
		simulatorPath = e.cfg.Simulator
	}
	if devicePath != "" && simulatorPath != "" {
		return nil, xerrors.New("cannot use both a TPM device and a simulator")
	}

	tpm, err := openTPM(devicePath, simulatorPath)
	if err != nil {
		return nil, xerrors.Errorf("cannot open TPM: %w", err)
	}
	e.tpm = tpm
	return tpm, nil
}

func (e *env) close() {
	if e.tpm == nil {
		return
	}
	if err := e.tpm.Close(); err != nil {
		logrus.WithError(err).Warn("cannot close TPM")
	}
	e.tpm = nil
}

func (e *env) measurer() *measure.Measurer {
	m := &measure.Measurer{
		Vars: e.vars,
		FS:   rootFS,
	}
	if e.tpm != nil {
		m.Extender = measure.TPMExtender{TPM: e.tpm}
	}
	return m
}

// engine returns a policy engine that uses the TPM, which must have
// been opened already.
func (e *env) engine() *policy.Engine {
	engine := policy.NewEngine(e.tpm, e.measurer())
	engine.Alg = e.alg
	if e.cfg.CapPCR != nil {
		engine.CapPCR = *e.cfg.CapPCR
	}
	return engine
}

func (e *env) loadPolicy(path string) (*policy.Policy, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return policy.Load(rootFS, path, nil)
}

func readBlob(path string) (*sealing.SealedBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("cannot read sealed blob: %w", err)
	}
	blob, err := sealing.UnmarshalSealedBlob(data)
	if err != nil {
		return nil, xerrors.Errorf("cannot decode sealed blob: %w", err)
	}
	return blob, nil
}
