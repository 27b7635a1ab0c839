package model

import "fmt"

// ResolutionReason records why a flag was resolved by a human.
type ResolutionReason string

const (
	ReasonOriginalArtist   ResolutionReason = "original_artist"
	ReasonLicensed         ResolutionReason = "licensed"
	ReasonFingerprintNoise ResolutionReason = "fingerprint_noise"
	ReasonCoverVersion     ResolutionReason = "cover_version"
	ReasonContentDeleted   ResolutionReason = "content_deleted"
	ReasonOther            ResolutionReason = "other"
)

var reasonLabels = map[ResolutionReason]string{
	ReasonOriginalArtist:   "original artist",
	ReasonLicensed:         "licensed",
	ReasonFingerprintNoise: "fingerprint noise",
	ReasonCoverVersion:     "cover/remix",
	ReasonContentDeleted:   "content deleted",
	ReasonOther:            "other",
}

// ParseResolutionReason accepts the snake_case wire names.
func ParseResolutionReason(s string) (ResolutionReason, error) {
	r := ResolutionReason(s)
	if _, ok := reasonLabels[r]; !ok {
		return "", fmt.Errorf("unknown resolution reason %q", s)
	}
	return r, nil
}

// Label returns the human-readable form.
func (r ResolutionReason) Label() string {
	if l, ok := reasonLabels[r]; ok {
		return l
	}
	return string(r)
}

// Match is one candidate match proposed by a detector.
type Match struct {
	Title  string  `json:"title"`
	Artist string  `json:"artist"`
	Score  float64 `json:"score"`
}

// Context is optional descriptive metadata about a labeled target.
// It is not signed and never drives resolution.
type Context struct {
	TrackID          *int64            `json:"track_id,omitempty"`
	TrackTitle       *string           `json:"track_title,omitempty"`
	ArtistHandle     *string           `json:"artist_handle,omitempty"`
	ArtistDID        *string           `json:"artist_did,omitempty"`
	HighestScore     *float64          `json:"highest_score,omitempty"`
	Matches          []Match           `json:"matches,omitempty"`
	ResolutionReason *ResolutionReason `json:"resolution_reason,omitempty"`
	ResolutionNotes  *string           `json:"resolution_notes,omitempty"`
}

// Merge returns c updated with every field present in newer.
// Fields absent from newer keep their current value.
func (c Context) Merge(newer Context) Context {
	if newer.TrackID != nil {
		c.TrackID = newer.TrackID
	}
	if newer.TrackTitle != nil {
		c.TrackTitle = newer.TrackTitle
	}
	if newer.ArtistHandle != nil {
		c.ArtistHandle = newer.ArtistHandle
	}
	if newer.ArtistDID != nil {
		c.ArtistDID = newer.ArtistDID
	}
	if newer.HighestScore != nil {
		c.HighestScore = newer.HighestScore
	}
	if newer.Matches != nil {
		c.Matches = newer.Matches
	}
	if newer.ResolutionReason != nil {
		c.ResolutionReason = newer.ResolutionReason
	}
	if newer.ResolutionNotes != nil {
		c.ResolutionNotes = newer.ResolutionNotes
	}
	return c
}

// Displayable reports whether the context carries enough to show alongside a flag.
func (c Context) Displayable() bool {
	return c.TrackID != nil || c.TrackTitle != nil || c.ArtistHandle != nil || c.ResolutionReason != nil
}

// NormalizeScore maps percentage scores (0-100) onto [0, 1].
// Values already in [0, 1] pass through.
func NormalizeScore(score float64) float64 {
	if score > 1 {
		return score / 100
	}
	return score
}

// Normalized returns c with HighestScore and every match score on [0, 1].
func (c Context) Normalized() Context {
	if c.HighestScore != nil {
		s := NormalizeScore(*c.HighestScore)
		c.HighestScore = &s
	}
	if c.Matches != nil {
		ms := make([]Match, len(c.Matches))
		for i, m := range c.Matches {
			m.Score = NormalizeScore(m.Score)
			ms[i] = m
		}
		c.Matches = ms
	}
	return c
}
