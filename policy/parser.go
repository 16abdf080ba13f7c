// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */


package policy

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/sealing"
)

// MaxIncludeDepth is the maximum nesting of #include directives.
const MaxIncludeDepth = 16

// LoadOptions customizes how a policy is loaded.
type LoadOptions struct {
	// LookupEnv is used to expand environment variables in paths. If
	// nil, os.LookupEnv is used. Referencing an undefined variable is an
	// error.
	LookupEnv func(name string) (string, bool)
}

func (o *LoadOptions) lookupEnv() func(string) (string, bool) {
	if o == nil || o.LookupEnv == nil {
		return os.LookupEnv
	}
	return o.LookupEnv
}

// Load reads the policy file at the specified path from fsys. Included
// files are read from fsys too.
func Load(fsys fs.FS, name string, opts *LoadOptions) (*Policy, error) {
	var pp preprocessor
	pp.fsys = fsys
	if err := pp.run(name); err != nil {
		return nil, err
	}
	return parse(&pp.out, name, opts)
}

// Parse parses a policy from r. The name is used for error messages.
// #include directives are not supported, because there is no filesystem
// to resolve them against.
func Parse(r io.Reader, name string, opts *LoadOptions) (*Policy, error) {
	return parse(r, name, opts)
}

func splitLines(data []byte) []string {
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// directive splits a preprocessor directive into its name and argument.
func directive(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(line[1:])
	for _, d := range []string{"include", "line"} {
		if line == d {
			return d, "", true
		}
		if strings.HasPrefix(line, d) && (line[len(d)] == ' ' || line[len(d)] == '\t') {
			return d, strings.TrimSpace(line[len(d):]), true
		}
	}
	return "", "", false
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", xerrors.Errorf("expected a quoted file name, got %q", s)
	}
	s = s[1 : len(s)-1]
	if s == "" || strings.ContainsRune(s, '"') {
		return "", xerrors.New("invalid file name")
	}
	return s, nil
}

// preprocessor expands #include directives into a single stream, with
// #line directives that record where each line came from.
type preprocessor struct {
	fsys fs.FS
	out  bytes.Buffer
}

func lineDirective(line int, file string) string {
	return fmt.Sprintf("#line %d \"%s\"\n", line, file)
}

func fsPath(name string) (string, error) {
	p := path.Clean(strings.TrimLeft(name, "/"))
	if p == "." || !fs.ValidPath(p) {
		return "", xerrors.Errorf("invalid path %q", name)
	}
	return p, nil
}

func (p *preprocessor) run(name string) error {
	fsName, err := fsPath(name)
	if err != nil {
		return xerrors.Errorf("cannot read policy file: %w", err)
	}
	data, err := fs.ReadFile(p.fsys, fsName)
	if err != nil {
		return xerrors.Errorf("cannot read policy file: %w", err)
	}
	return p.expand(name, data, 0)
}

func (p *preprocessor) expand(name string, data []byte, depth int) error {
	p.out.WriteString(lineDirective(1, name))

	for i, line := range splitLines(data) {
		lineNum := i + 1

		d, arg, ok := directive(line)
		if !ok || d != "include" {
			p.out.WriteString(line)
			p.out.WriteByte('\n')
			continue
		}

		if depth+1 > MaxIncludeDepth {
			return newSyntaxError(name, lineNum, "#include nested too deeply (maximum depth is %d)", MaxIncludeDepth)
		}
		inc, err := unquote(arg)
		if err != nil {
			return newSyntaxError(name, lineNum, "invalid #include: %v", err)
		}

		incName := inc
		if !path.IsAbs(inc) {
			incName = path.Join(path.Dir(name), inc)
		}
		incFsName, err := fsPath(incName)
		if err != nil {
			return newSyntaxError(name, lineNum, "cannot include %q: %v", inc, err)
		}
		incData, err := fs.ReadFile(p.fsys, incFsName)
		if err != nil {
			return newSyntaxError(name, lineNum, "cannot include %q: %v", inc, err)
		}
		if err := p.expand(incName, incData, depth+1); err != nil {
			return err
		}

		p.out.WriteString(lineDirective(lineNum+1, name))
	}

	return nil
}

// parser parses a preprocessed stream.
type parser struct {
	lookupEnv func(string) (string, bool)
	file      string
	line      int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return newSyntaxError(p.file, p.line, format, args...)
}

func (p *parser) expandEnv(s string) (string, error) {
	var undefined []string
	out := os.Expand(s, func(name string) string {
		v, ok := p.lookupEnv(name)
		if !ok {
			undefined = append(undefined, name)
		}
		return v
	})
	if len(undefined) > 0 {
		return "", p.errorf("undefined environment variable %q", undefined[0])
	}
	return out, nil
}

func (p *parser) parsePCR(s string) (int, error) {
	if s == "" {
		return 0, p.errorf("missing PCR")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, p.errorf("invalid PCR %q", s)
		}
	}
	pcr, err := strconv.Atoi(s)
	if err != nil || pcr >= sealing.NumPCRs {
		return 0, p.errorf("PCR %s out of range (must be between 0 and %d)", s, sealing.NumPCRs-1)
	}
	return pcr, nil
}

func (p *parser) parseEntry(line string) (*Entry, error) {
	// The path may contain colons, so split from the right.
	i := strings.LastIndexByte(line, ':')
	if i < 0 {
		return nil, p.errorf("expected PATH : TYPE : PCR")
	}
	j := strings.LastIndexByte(line[:i], ':')
	if j < 0 {
		return nil, p.errorf("expected PATH : TYPE : PCR")
	}

	locator := strings.TrimSpace(line[:j])
	kindStr := strings.TrimSpace(line[j+1 : i])
	pcrStr := strings.TrimSpace(line[i+1:])

	if locator == "" {
		return nil, p.errorf("missing path")
	}
	locator, err := p.expandEnv(locator)
	if err != nil {
		return nil, err
	}
	if locator == "" {
		return nil, p.errorf("path is empty after expansion")
	}

	kind, err := measure.ParseKind(kindStr)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	pcr, err := p.parsePCR(pcrStr)
	if err != nil {
		return nil, err
	}

	return &Entry{Locator: locator, Kind: kind, PCR: pcr, File: p.file, Line: p.line}, nil
}

func (p *parser) parseLineDirective(arg string) error {
	num := arg
	rest := ""
	if i := strings.IndexAny(arg, " \t"); i >= 0 {
		num = arg[:i]
		rest = strings.TrimSpace(arg[i:])
	}
	if num == "" {
		return p.errorf("invalid #line directive")
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return p.errorf("invalid line number %q", num)
	}
	if rest != "" {
		file, err := unquote(rest)
		if err != nil {
			return p.errorf("invalid #line directive: %v", err)
		}
		p.file = file
	}
	// The directive applies to the next line.
	p.line = n - 1
	return nil
}

func parse(r io.Reader, name string, opts *LoadOptions) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("cannot read policy: %w", err)
	}

	p := &parser{lookupEnv: opts.lookupEnv(), file: name}
	policy := new(Policy)

	for _, line := range splitLines(data) {
		p.line++

		if d, arg, ok := directive(line); ok {
			switch d {
			case "line":
				if err := p.parseLineDirective(arg); err != nil {
					return nil, err
				}
			case "include":
				// Load expands these before parsing.
				return nil, p.errorf("#include is not supported here")
			}
			continue
		}

		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := p.parseEntry(line)
		if err != nil {
			return nil, err
		}
		policy.append(*entry)
	}

	return policy, nil
}
