package main

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/sealing"
)

// kekOptions select the key-encryption key, which is either read from a
// file or derived from a sealed secret.
type kekOptions struct {
	KEK    string `long:"kek" value-name:"FILE" description:"File containing the key-encryption key"`
	Policy string `long:"policy" value-name:"FILE" description:"Policy used to unseal the secret that the key-encryption key is derived from"`
	Blob   string `long:"blob" value-name:"FILE" description:"Sealed secret that the key-encryption key is derived from"`
	Label  string `long:"label" default:"bootseal key wrapping" description:"Label used to derive the key-encryption key"`
}

func (o *kekOptions) kek() ([]byte, error) {
	switch {
	case o.KEK != "" && o.Blob != "":
		return nil, xerrors.New("cannot use both --kek and --blob")
	case o.KEK != "":
		kek, err := os.ReadFile(o.KEK)
		if err != nil {
			return nil, xerrors.Errorf("cannot read key-encryption key: %w", err)
		}
		return kek, nil
	case o.Blob == "":
		return nil, xerrors.New("either --kek or --blob must be specified")
	case o.Policy == "":
		return nil, xerrors.New("--blob requires --policy")
	}

	e, err := newEnv()
	if err != nil {
		return nil, err
	}
	defer e.close()

	pol, err := e.loadPolicy(o.Policy)
	if err != nil {
		return nil, err
	}
	blob, err := readBlob(o.Blob)
	if err != nil {
		return nil, err
	}
	if _, err := e.openTPM(); err != nil {
		return nil, err
	}
	secret, err := e.engine().Unseal(e.ctx, pol, blob)
	if err != nil {
		return nil, err
	}
	return sealing.DeriveWrappingKey(secret, o.Label), nil
}

type wrapCommand struct {
	kekOptions

	In  string `long:"in" required:"true" value-name:"FILE" description:"File containing the key to wrap"`
	Out string `long:"out" required:"true" value-name:"FILE" description:"Where to write the wrapped key"`
}

func (c *wrapCommand) Execute(args []string) error {
	key, err := os.ReadFile(c.In)
	if err != nil {
		return xerrors.Errorf("cannot read key: %w", err)
	}
	kek, err := c.kek()
	if err != nil {
		return err
	}
	wrapped, err := sealing.WrapKey(kek, key)
	if err != nil {
		return xerrors.Errorf("cannot wrap key: %w", err)
	}
	if err := putter.PutFile(c.Out, wrapped, 0600); err != nil {
		return xerrors.Errorf("cannot write wrapped key: %w", err)
	}
	return nil
}

type unwrapCommand struct {
	kekOptions

	In  string `long:"in" required:"true" value-name:"FILE" description:"File containing the wrapped key"`
	Out string `long:"out" required:"true" value-name:"FILE" description:"Where to write the key"`
}

func (c *unwrapCommand) Execute(args []string) error {
	wrapped, err := os.ReadFile(c.In)
	if err != nil {
		return xerrors.Errorf("cannot read wrapped key: %w", err)
	}
	kek, err := c.kek()
	if err != nil {
		return err
	}
	key, err := sealing.UnwrapKey(kek, wrapped)
	if err != nil {
		return xerrors.Errorf("cannot unwrap key: %w", err)
	}
	if err := putter.PutFile(c.Out, key, 0600); err != nil {
		return xerrors.Errorf("cannot write key: %w", err)
	}
	return nil
}
