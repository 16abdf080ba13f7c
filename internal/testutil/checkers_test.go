// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2021 Canonical Ltd
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

package testutil_test

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"golang.org/x/xerrors"
	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/internal/testutil"
)

type checkerCase struct {
	params []interface{}
	result bool
	errMsg string
}

type checkersSuite struct{}

var _ = Suite(&checkersSuite{})

func (s *checkersSuite) runChecker(c *C, checker Checker, name string, paramNames []string, cases []checkerCase) {
	info := checker.Info()
	c.Assert(info.Name, Equals, name)
	c.Assert(info.Params, DeepEquals, paramNames)

	for i, tc := range cases {
		c.Assert(tc.params, HasLen, len(info.Params), Commentf("case %d", i))
		names := append([]string(nil), info.Params...)
		result, errMsg := checker.Check(tc.params, names)
		c.Check(result, Equals, tc.result, Commentf("case %d: %#v", i, tc.params))
		c.Check(errMsg, Equals, tc.errMsg, Commentf("case %d: %#v", i, tc.params))
	}
}

func (s *checkersSuite) TestHasKey(c *C) {
	pcrs := map[int][]byte{7: {0x01}, 11: {0x02}}
	vars := map[string]int{"LINUX_SCENARIO_ID": 4}
	s.runChecker(c, HasKey, "HasKey", []string{"map", "key"}, []checkerCase{
		{params: []interface{}{pcrs, 7}, result: true},
		{params: []interface{}{pcrs, 4}},
		{params: []interface{}{vars, "LINUX_SCENARIO_ID"}, result: true},
		{params: []interface{}{vars, "SecureBoot"}},
		{params: []interface{}{"PCR7", 7}, errMsg: "map is not a map"},
		{params: []interface{}{pcrs, "7"}, errMsg: "key has an unexpected type"},
	})
}

func (s *checkersSuite) TestInSlice(c *C) {
	s.runChecker(c, InSlice(Equals), "InSlice(Equals)", []string{"obtained", "[]expected"}, []checkerCase{
		{params: []interface{}{11, []int{0, 7, 11}}, result: true},
		{params: []interface{}{12, []int{0, 7, 11}}},
		{params: []interface{}{"sha256", []string{"sha1", "sha256"}}, result: true},
		{params: []interface{}{"sha384", []string{"sha1", "sha256"}}},
		{params: []interface{}{7, 7}, errMsg: "[]expected has the wrong kind"},
	})
	s.runChecker(c, InSlice(IsNil), "InSlice(IsNil)", []string{"obtained", "[]expected"}, []checkerCase{
		{params: []interface{}{nil, nil}, errMsg: "InSlice can only be used with checkers that require 2 parameters"},
	})
}

func (s *checkersSuite) TestIsTrueAndIsFalse(c *C) {
	s.runChecker(c, IsTrue, "IsTrue", []string{"value"}, []checkerCase{
		{params: []interface{}{true}, result: true},
		{params: []interface{}{false}},
		{params: []interface{}{"true"}, errMsg: "value is not a bool"},
	})
	s.runChecker(c, IsFalse, "IsFalse", []string{"value"}, []checkerCase{
		{params: []interface{}{false}, result: true},
		{params: []interface{}{true}},
		{params: []interface{}{0}, errMsg: "value is not a bool"},
	})
}

type blobError struct {
	path string
	err  error
}

func (e blobError) Error() string { return "cannot read blob " + e.path + ": " + e.err.Error() }
func (e blobError) Unwrap() error { return e.err }

func (s *checkersSuite) TestConvertibleTo(c *C) {
	var err error = blobError{path: "/boot/sealed", err: io.ErrUnexpectedEOF}
	var pathErr error = &fs.PathError{Op: "open", Path: "/boot/sealed", Err: fs.ErrNotExist}
	s.runChecker(c, ConvertibleTo, "ConvertibleTo", []string{"value", "sample"}, []checkerCase{
		{params: []interface{}{blobError{}, blobError{}}, result: true},
		{params: []interface{}{&blobError{}, blobError{}}},
		{params: []interface{}{blobError{}, &blobError{}}},
		{params: []interface{}{err, blobError{}}, result: true},
		{params: []interface{}{err, errors.New("")}},
		{params: []interface{}{pathErr, &os.PathError{}}, result: true},
		{params: []interface{}{pathErr, blobError{}}},
	})
}

func (s *checkersSuite) TestErrorIs(c *C) {
	wrapped := xerrors.Errorf("cannot read sealed blob: %w", &fs.PathError{Op: "open", Path: "/boot/sealed", Err: fs.ErrNotExist})
	s.runChecker(c, ErrorIs, "ErrorIs", []string{"value", "expected"}, []checkerCase{
		{params: []interface{}{fs.ErrNotExist, fs.ErrNotExist}, result: true},
		{params: []interface{}{wrapped, fs.ErrNotExist}, result: true},
		{params: []interface{}{blobError{err: io.ErrUnexpectedEOF}, io.ErrUnexpectedEOF}, result: true},
		{params: []interface{}{wrapped, io.EOF}},
		{params: []interface{}{"cannot read", io.EOF}, errMsg: "value is not an error"},
		{params: []interface{}{io.EOF, "EOF"}, errMsg: "expected is not an error"},
	})
}
