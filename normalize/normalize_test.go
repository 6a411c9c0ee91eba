// Copyright ©2026 The bamcowig Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package normalize

import (
	"errors"
	"math"
	"testing"

	"github.com/kortschak/utter"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type S struct{}

var _ = check.Suite(&S{})

func (s *S) TestParseMethod(c *check.C) {
	for _, t := range []struct {
		in   string
		want Method
		err  bool
	}{
		{in: "none", want: None},
		{in: "CPM", want: CPM},
		{in: " rpkm ", want: RPKM},
		{in: "RPGC", want: RPGC},
		{in: "bpm", want: BPM},
		{in: "tpm", err: true},
		{in: "", err: true},
	} {
		m, err := ParseMethod(t.in)
		if t.err {
			c.Check(errors.Is(err, ErrMethod), check.Equals, true, check.Commentf("%q", t.in))
			continue
		}
		c.Check(err, check.IsNil)
		c.Check(m, check.Equals, t.want)
		c.Check(m.String(), check.Equals, methodNames[t.want])
	}
	c.Check(Method(9).String(), check.Equals, "Method(9)")
}

func rowsEqual(c *check.C, got, want [][]float64) {
	ok := len(got) == len(want)
	for i := 0; ok && i < len(got); i++ {
		ok = len(got[i]) == len(want[i])
		for j := 0; ok && j < len(got[i]); j++ {
			ok = math.Abs(got[i][j]-want[i][j]) <= 1e-9*math.Max(1, math.Abs(want[i][j]))
		}
	}
	if !ok {
		c.Errorf("unexpected rows:\ngot: %s\nwant:%s", utter.Sdump(got), utter.Sdump(want))
	}
}

func (s *S) TestApply(c *check.C) {
	rows := [][]float64{
		{0, 1, 2.5, 0},
		{4},
		{},
		{0.5, 0, 2},
	}
	orig := [][]float64{
		{0, 1, 2.5, 0},
		{4},
		{},
		{0.5, 0, 2},
	}

	for _, t := range []struct {
		p      Params
		factor float64
	}{
		{p: Params{Method: None}, factor: 1},
		{p: Params{Method: CPM, TotalReads: 2000000}, factor: 0.5},
		{p: Params{Method: RPKM, TotalReads: 1000000, BinSize: 50}, factor: 20},
		{p: Params{Method: RPGC, TotalReads: 1000, ReadLength: 100, EffectiveGenomeSize: 50000}, factor: 0.5},
		{p: Params{Method: BPM}, factor: 1e5},
	} {
		got, err := Apply(rows, t.p)
		c.Assert(err, check.IsNil, check.Commentf("%v", t.p.Method))
		want := make([][]float64, len(orig))
		for i, r := range orig {
			want[i] = make([]float64, len(r))
			for j, v := range r {
				want[i][j] = v * t.factor
			}
		}
		c.Log(t.p.Method)
		rowsEqual(c, got, want)
		c.Check(rows, check.DeepEquals, orig)
	}
}

func (s *S) TestApplyLarge(c *check.C) {
	rows := make([][]float64, 100)
	for i := range rows {
		rows[i] = make([]float64, 1000)
		for j := range rows[i] {
			rows[i][j] = float64((i + j) % 7)
		}
	}
	got, err := Apply(rows, Params{Method: BPM})
	c.Assert(err, check.IsNil)
	var sum float64
	for _, r := range got {
		for _, v := range r {
			sum += v
		}
	}
	c.Check(math.Abs(sum-1e6) < 1e-3, check.Equals, true, check.Commentf("sum=%v", sum))
}

func (s *S) TestApplyErrors(c *check.C) {
	rows := [][]float64{{0, 0}, {0}}
	for _, p := range []Params{
		{Method: CPM},
		{Method: RPKM, TotalReads: 10},
		{Method: RPKM, BinSize: 10},
		{Method: RPGC, EffectiveGenomeSize: 100, ReadLength: 50},
		{Method: RPGC, EffectiveGenomeSize: 100, TotalReads: 10},
		{Method: BPM},
	} {
		got, err := Apply(rows, p)
		c.Check(got, check.IsNil)
		c.Check(errors.Is(err, ErrZeroDenominator), check.Equals, true, check.Commentf("%+v", p))
	}

	_, err := Apply(rows, Params{Method: RPGC, TotalReads: 10, ReadLength: 50})
	c.Check(err, check.ErrorMatches, "normalize: rpgc: effective genome size must be positive: 0")

	_, err = Apply(rows, Params{Method: Method(7)})
	c.Check(errors.Is(err, ErrMethod), check.Equals, true)

	got, err := Apply(nil, Params{Method: CPM, TotalReads: 1})
	c.Check(err, check.IsNil)
	c.Check(got, check.HasLen, 0)
}
