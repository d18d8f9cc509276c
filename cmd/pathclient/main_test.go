package main

import "testing"

func TestParseFloats(t *testing.T) {
	got, err := parseFloats("1.5, 2,-3")
	if err != nil {
		t.Fatalf("parseFloats: %v", err)
	}
	want := []float64{1.5, 2, -3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	for _, bad := range []string{"", "1,x", "1,,2"} {
		if _, err := parseFloats(bad); err == nil {
			t.Fatalf("parseFloats(%q) should fail", bad)
		}
	}
}

func TestFormatFloats(t *testing.T) {
	if got := formatFloats([]float64{1, 2.25, -0.5}); got != "(1.00,2.25,-0.50)" {
		t.Fatalf("formatFloats = %q", got)
	}
	if got := formatFloats(nil); got != "()" {
		t.Fatalf("formatFloats(nil) = %q", got)
	}
}
