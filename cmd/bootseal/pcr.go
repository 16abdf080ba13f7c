package main

import (
	"fmt"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/sealing"
)

type pcrCommand struct {
	Read   pcrReadCommand   `command:"read" description:"Print the values of PCRs"`
	Extend pcrExtendCommand `command:"extend" description:"Measure an artifact and extend it into a PCR"`
	Cap    pcrCapCommand    `command:"cap" description:"Cap a PCR so that it can't match any sealing policy"`
}

type pcrReadCommand struct {
	PCRs pcrRange `long:"pcrs" default:"0-15" description:"Which PCRs to read"`
	Alg  string   `long:"alg" default:"sha256" description:"PCR bank to read from"`
}

func (c *pcrReadCommand) Execute(args []string) error {
	alg, err := parseAlg(c.Alg)
	if err != nil {
		return err
	}
	mask, err := c.PCRs.Mask()
	if err != nil {
		return err
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	tpm, err := e.openTPM()
	if err != nil {
		return err
	}
	values, err := sealing.ReadPCRs(tpm, alg, mask)
	if err != nil {
		return err
	}
	for _, pcr := range values.Indices() {
		fmt.Fprintf(Stdout, "PCR %d: %s\n", pcr, sealing.BinaryToHex(values[pcr]))
	}
	return nil
}

type pcrExtendCommand struct {
	PCR  int    `long:"pcr" required:"true" description:"PCR to extend"`
	Type string `long:"type" default:"BINARY" description:"How to measure the artifact (EFIVAR, PEIMAGE, BINARY, BINARY32 or CAP)"`

	Positional struct {
		Locator string `positional-arg-name:"LOCATOR" description:"Path of a file or name of an EFI variable"`
	} `positional-args:"true"`
}

func (c *pcrExtendCommand) Execute(args []string) error {
	kind, err := measure.ParseKind(c.Type)
	if err != nil {
		return err
	}
	locator := c.Positional.Locator
	switch {
	case kind == measure.Cap || kind == measure.PCR:
	case locator == "":
		return xerrors.Errorf("%v measurements need a locator", kind)
	case kind != measure.EFIVar:
		if locator, err = filepath.Abs(locator); err != nil {
			return err
		}
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if _, err := e.openTPM(); err != nil {
		return err
	}
	_, sha256Digest, err := e.measurer().Measure(e.ctx, locator, kind, false, c.PCR, measure.NewPCRBank())
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "extended PCR %d with %s\n", c.PCR, sha256Digest)
	return nil
}

type pcrCapCommand struct {
	PCR int `long:"pcr" required:"true" description:"PCR to cap"`
}

func (c *pcrCapCommand) Execute(args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	tpm, err := e.openTPM()
	if err != nil {
		return err
	}
	return sealing.CapPCR(tpm, c.PCR)
}
