package main

import (
	"fmt"
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"

	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/policy"
)

type sealCommand struct {
	Policy string `long:"policy" required:"true" value-name:"FILE" description:"Policy describing the boot chain to seal to"`
	In     string `long:"in" required:"true" value-name:"FILE" description:"File containing the secret"`
	Out    string `long:"out" required:"true" value-name:"FILE" description:"Where to write the sealed blob"`
}

func (c *sealCommand) Execute(args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	pol, err := e.loadPolicy(c.Policy)
	if err != nil {
		return err
	}
	secret, err := os.ReadFile(c.In)
	if err != nil {
		return xerrors.Errorf("cannot read secret: %w", err)
	}
	if _, err := e.openTPM(); err != nil {
		return err
	}

	blob, err := e.engine().Seal(e.ctx, pol, secret)
	if err != nil {
		return err
	}
	data, err := blob.Marshal()
	if err != nil {
		return xerrors.Errorf("cannot encode sealed blob: %w", err)
	}
	if err := putter.PutFile(c.Out, data, 0600); err != nil {
		return xerrors.Errorf("cannot write sealed blob: %w", err)
	}
	return nil
}

type unsealCommand struct {
	Policy string `long:"policy" required:"true" value-name:"FILE" description:"Policy that the blob was sealed with"`
	Blob   string `long:"blob" required:"true" value-name:"FILE" description:"Sealed blob"`
	CapPCR int    `long:"cap-pcr" default:"-1" value-name:"PCR" description:"PCR to cap after unsealing, or -1 to use the configured value"`
	Out    string `long:"out" value-name:"FILE" description:"Where to write the secret (defaults to standard output)"`
}

func (c *unsealCommand) Execute(args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	pol, err := e.loadPolicy(c.Policy)
	if err != nil {
		return err
	}
	blob, err := readBlob(c.Blob)
	if err != nil {
		return err
	}
	if _, err := e.openTPM(); err != nil {
		return err
	}

	engine := e.engine()
	if c.CapPCR != policy.NoCapPCR {
		engine.CapPCR = c.CapPCR
	}
	secret, err := engine.Unseal(e.ctx, pol, blob)
	if err != nil {
		return err
	}

	if c.Out == "" {
		_, err = Stdout.Write(secret)
		return err
	}
	if err := putter.PutFile(c.Out, secret, 0600); err != nil {
		return xerrors.Errorf("cannot write secret: %w", err)
	}
	return nil
}

type measureCommand struct {
	Policy string `long:"policy" required:"true" value-name:"FILE" description:"Policy to evaluate"`
	Format string `long:"format" default:"text" choice:"text" choice:"yaml" description:"Output format"`
}

// pcrPrediction is the predicted value of a single PCR. PCRs that a
// policy selects without extending them take their current value when
// sealing, and have no prediction.
type pcrPrediction struct {
	PCR     int    `yaml:"pcr"`
	SHA1    string `yaml:"sha1,omitempty"`
	SHA256  string `yaml:"sha256,omitempty"`
	Current bool   `yaml:"current,omitempty"`
}

func predictions(pol *policy.Policy, bank *measure.PCRBank) (out []pcrPrediction) {
	for _, pcr := range pol.Mask.PCRs() {
		if !bank.Extended().Contains(pcr) {
			out = append(out, pcrPrediction{PCR: pcr, Current: true})
			continue
		}
		out = append(out, pcrPrediction{
			PCR:    pcr,
			SHA1:   bank.SHA1(pcr).String(),
			SHA256: bank.SHA256(pcr).String(),
		})
	}
	return out
}

func (c *measureCommand) Execute(args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	pol, err := e.loadPolicy(c.Policy)
	if err != nil {
		return err
	}

	bank, err := policy.NewEngine(nil, e.measurer()).Evaluate(e.ctx, pol, true)
	if err != nil {
		return err
	}
	values := predictions(pol, bank)

	if c.Format == "yaml" {
		data, err := yaml.Marshal(map[string][]pcrPrediction{"pcrs": values})
		if err != nil {
			return err
		}
		_, err = Stdout.Write(data)
		return err
	}

	for _, v := range values {
		if v.Current {
			fmt.Fprintf(Stdout, "PCR %d: current value\n", v.PCR)
			continue
		}
		fmt.Fprintf(Stdout, "PCR %d:\n  SHA1:   %s\n  SHA256: %s\n", v.PCR, v.SHA1, v.SHA256)
	}
	return nil
}
