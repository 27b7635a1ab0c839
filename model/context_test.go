package model

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ptr[T any](v T) *T { return &v }

func TestContextMerge_FillsWithoutClobbering(t *testing.T) {
	old := Context{TrackTitle: ptr("first title"), ArtistHandle: ptr("artist.bsky.social")}
	newer := Context{TrackTitle: ptr("second title"), HighestScore: ptr(0.9)}

	got := old.Merge(newer)
	want := Context{
		TrackTitle:   ptr("second title"),
		ArtistHandle: ptr("artist.bsky.social"),
		HighestScore: ptr(0.9),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeScore(t *testing.T) {
	cases := map[float64]float64{85: 0.85, 100: 1, 50: 0.5, 0.85: 0.85, 1: 1, 0: 0}
	for in, want := range cases {
		if got := NormalizeScore(in); math.Abs(got-want) > 1e-9 {
			t.Fatalf("NormalizeScore(%v) = %v, want %v", in, got, want)
		}
	}

	c := Context{HighestScore: ptr(92.0), Matches: []Match{{Title: "t", Artist: "a", Score: 40}}}.Normalized()
	if math.Abs(*c.HighestScore-0.92) > 1e-9 || math.Abs(c.Matches[0].Score-0.4) > 1e-9 {
		t.Fatalf("Normalized: %+v", c)
	}
}

func TestDisplayable(t *testing.T) {
	if (Context{ArtistDID: ptr("did:plc:x")}).Displayable() {
		t.Fatalf("artist_did alone should not make context displayable")
	}
	reason := ReasonLicensed
	if !(Context{ResolutionReason: &reason}).Displayable() {
		t.Fatalf("resolution reason should make context displayable")
	}
}

func TestParseResolutionReasonAndDecision(t *testing.T) {
	r, err := ParseResolutionReason("fingerprint_noise")
	if err != nil || r != ReasonFingerprintNoise || r.Label() != "fingerprint noise" {
		t.Fatalf("ParseResolutionReason: %v %v", r, err)
	}
	if _, err := ParseResolutionReason("FingerprintNoise"); err == nil {
		t.Fatalf("expected camel case to be rejected")
	}
	if d, ok := ParseDecision("clear"); !ok || d != DecisionClear {
		t.Fatalf("ParseDecision(clear) = %v %v", d, ok)
	}
	if _, ok := ParseDecision("approve"); ok {
		t.Fatalf("ParseDecision(approve) should be unknown")
	}
}
