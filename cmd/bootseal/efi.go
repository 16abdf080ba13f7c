package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/xerrors"

	bootseal_efi "github.com/snapcore/bootseal/efi"
	"github.com/snapcore/bootseal/sealing"
)

type dbxCommand struct {
	Check dbxCheckCommand `command:"check" description:"Check whether a dbx update needs to be applied"`
}

type dbxCheckCommand struct {
	Update  string `long:"update" required:"true" value-name:"FILE" description:"The dbx update, which may be authenticated"`
	Current string `long:"current" value-name:"FILE" description:"The current dbx (defaults to the firmware's dbx)"`
}

func readDBXFile(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bootseal_efi.DBXHashes(data)
}

func (c *dbxCheckCommand) Execute(args []string) error {
	update, err := readDBXFile(c.Update)
	if err != nil {
		return xerrors.Errorf("cannot read dbx update: %w", err)
	}

	var current [][]byte
	if c.Current != "" {
		current, err = readDBXFile(c.Current)
	} else {
		current, err = bootseal_efi.ReadFirmwareDBX(varContext())
	}
	if err != nil {
		return xerrors.Errorf("cannot read current dbx: %w", err)
	}

	if bootseal_efi.NeedDBXUpdate(current, update) {
		fmt.Fprintln(Stdout, "dbx update required")
	} else {
		fmt.Fprintln(Stdout, "dbx is up to date")
	}
	return nil
}

type imageCommand struct {
	Hash   imageHashCommand   `command:"hash" description:"Print the Authenticode digest of a PE image"`
	Verify imageVerifyCommand `command:"verify" description:"Verify the signature of a PE image"`
}

type imagePositional struct {
	Image string `positional-arg-name:"FILE" required:"true"`
}

func readImage(path string) (*bootseal_efi.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bootseal_efi.NewImage(data)
}

type imageHashCommand struct {
	Alg string `long:"alg" default:"sha256" description:"Digest algorithm"`

	Positional imagePositional `positional-args:"true" required:"true"`
}

func (c *imageHashCommand) Execute(args []string) error {
	alg, err := parseAlg(c.Alg)
	if err != nil {
		return err
	}
	image, err := readImage(c.Positional.Image)
	if err != nil {
		return err
	}
	digest, err := image.Hash(alg.GetHash())
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, sealing.BinaryToHex(digest))
	return nil
}

type imageVerifyCommand struct {
	DB   string `long:"db" value-name:"FILE" description:"Signature database of trusted certificates (defaults to the firmware's db)"`
	Cert string `long:"cert" value-name:"FILE" description:"Trusted certificate, in PEM or DER form"`
	DBX  string `long:"dbx" value-name:"FILE" description:"Forbidden signature database to check the image against"`

	Positional imagePositional `positional-args:"true" required:"true"`
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, xerrors.Errorf("unexpected PEM block type %q", block.Type)
		}
		data = block.Bytes
	}
	return x509.ParseCertificate(data)
}

func (c *imageVerifyCommand) readDB() (efi.SignatureDatabase, error) {
	if c.DB == "" {
		return bootseal_efi.ReadFirmwareDB(varContext())
	}
	data, err := os.ReadFile(c.DB)
	if err != nil {
		return nil, err
	}
	return bootseal_efi.ParseSignatureDatabase(data)
}

func (c *imageVerifyCommand) Execute(args []string) error {
	if c.DB != "" && c.Cert != "" {
		return xerrors.New("cannot use both --db and --cert")
	}

	image, err := readImage(c.Positional.Image)
	if err != nil {
		return err
	}

	if c.DBX != "" {
		dbx, err := readDBXFile(c.DBX)
		if err != nil {
			return xerrors.Errorf("cannot read dbx: %w", err)
		}
		revoked, err := bootseal_efi.IsImageRevoked(image, dbx)
		if err != nil {
			return err
		}
		if revoked {
			return xerrors.New("image is revoked by dbx")
		}
	}

	var signer *x509.Certificate
	if c.Cert != "" {
		anchor, err := readCertificate(c.Cert)
		if err != nil {
			return xerrors.Errorf("cannot read certificate: %w", err)
		}
		if err := image.VerifyCertificate(anchor); err != nil {
			return err
		}
		signer = anchor
	} else {
		db, err := c.readDB()
		if err != nil {
			return xerrors.Errorf("cannot read signature database: %w", err)
		}
		if signer, err = image.VerifyWithDB(db); err != nil {
			return err
		}
	}

	fmt.Fprintf(Stdout, "image is trusted by %s\n", signer.Subject)
	return nil
}
