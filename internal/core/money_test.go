package core

import (
	"encoding/json"
	"testing"
)

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{".5", 50, true},
		{"-1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:     "0.00",
		5:     "0.05",
		1234:  "12.34",
		-250:  "-2.50",
		10000: "100.00",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Fatalf("%d: got %q want %q", cents, got, want)
		}
	}
}

func TestMoneyUnmarshalJSON(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{`12.5`, 1250, true},
		{`"12.50"`, 1250, true},
		{`100`, 10000, true},
		{`0`, 0, true},
		{`null`, 0, true},
		{`1e2`, 10000, true},
		{`"1.2345E1"`, 1235, true},
		{`2.5e-3`, 0, true},
		{`"1e400"`, 0, false},
		{`-1e2`, 0, false},
		{`"1/3e2"`, 0, false},
		{`"x"`, 0, false},
		{`-3`, 0, false},
	}
	for _, tc := range cases {
		var m Money
		err := json.Unmarshal([]byte(tc.in), &m)
		if tc.ok {
			if err != nil || m.Cents != tc.out {
				t.Fatalf("%s expected %d, got %d (err=%v)", tc.in, tc.out, m.Cents, err)
			}
		} else if err == nil {
			t.Fatalf("%s expected error", tc.in)
		}
	}
}
