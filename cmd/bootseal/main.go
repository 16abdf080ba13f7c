package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bsiegert/ranges"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/sealing"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	putter measure.FilePutter = measure.AtomicFilePutter{}
)

type pcrRange []int

func (r pcrRange) MarshalFlag() (string, error) {
	var s []string
	for _, p := range r {
		s = append(s, strconv.Itoa(p))
	}
	return strings.Join(s, ","), nil
}

func (r *pcrRange) UnmarshalFlag(value string) error {
	i, err := ranges.Parse(value)
	if err != nil {
		return err
	}
	for _, p := range i {
		*r = append(*r, int(p))
	}
	return nil
}

func (r pcrRange) Mask() (sealing.PCRMask, error) {
	return sealing.MakePCRMask(r...)
}

type options struct {
	TPM       string   `long:"tpm" value-name:"PATH" description:"Path to the TPM character device"`
	Simulator string   `long:"simulator" value-name:"PATH" description:"Path to the unix socket of a TPM simulator"`
	Config    string   `long:"config" value-name:"FILE" description:"Path to the configuration file"`
	Vars      []string `long:"var" value-name:"NAME=HEX|@FILE" description:"Override the contents of a variable or file referenced by a policy"`
	Verbose   []bool   `short:"v" long:"verbose" description:"Increase verbosity (can be repeated)"`

	Seal    sealCommand    `command:"seal" description:"Seal a secret to the PCR values predicted by a policy"`
	Unseal  unsealCommand  `command:"unseal" description:"Unseal a secret with the current PCR values"`
	Measure measureCommand `command:"measure" description:"Print the PCR values predicted by a policy"`
	PCR     pcrCommand     `command:"pcr" description:"Read, extend or cap PCRs"`
	DBX     dbxCommand     `command:"dbx" description:"Inspect forbidden signature database updates"`
	Image   imageCommand   `command:"image" description:"Inspect PE images"`
	Wrap    wrapCommand    `command:"wrap" description:"Wrap a key with a key-encryption key"`
	Unwrap  unwrapCommand  `command:"unwrap" description:"Unwrap a key that was wrapped with a key-encryption key"`
}

var opts options

func setupLogging() {
	logrus.SetOutput(Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch len(opts.Verbose) {
	case 0:
		logrus.SetLevel(logrus.WarnLevel)
	case 1:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func run(args []string) error {
	opts = options{}
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		setupLogging()
		return cmd.Execute(args)
	}
	_, err := parser.ParseArgs(args)
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		var e *flags.Error
		if xerrors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, e.Message)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", oneLine(err))
		os.Exit(1)
	}
}

func oneLine(err error) string {
	return strings.ReplaceAll(strings.TrimSpace(err.Error()), "\n", " ")
}
