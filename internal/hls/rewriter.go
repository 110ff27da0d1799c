package hls

import (
	"fmt"
	"strconv"
	"strings"
)

// CadencePolicy selects how the rewriter decides where ad breaks go.
type CadencePolicy int

const (
	// PolicyEventDriven appends a single break at the end of the fetched
	// window when the session's segment-count cue has fired.
	PolicyEventDriven CadencePolicy = iota

	// PolicyDurationAccumulated sums #EXTINF durations during the scan and
	// inserts a break in place each time the configured threshold is crossed.
	PolicyDurationAccumulated
)

// masterPlaylistName identifies the variant-index playlist, which is never
// eligible for ad insertion.
const masterPlaylistName = "master"

// Rewriter injects ad breaks into origin playlist text. All lines that are
// not part of an inserted break pass through byte-identical.
type Rewriter struct {
	policy CadencePolicy

	// adSegmentSeconds is the #EXTINF duration advertised for each ad segment.
	adSegmentSeconds int

	// breakThresholdSeconds is the accumulated content duration between
	// breaks under PolicyDurationAccumulated.
	breakThresholdSeconds float64
}

// NewRewriter returns a rewriter for the given policy. adSegmentSeconds is
// the advertised duration of each ad segment; breakThresholdSeconds only
// applies under PolicyDurationAccumulated.
func NewRewriter(policy CadencePolicy, adSegmentSeconds int, breakThresholdSeconds float64) *Rewriter {
	return &Rewriter{
		policy:                policy,
		adSegmentSeconds:      adSegmentSeconds,
		breakThresholdSeconds: breakThresholdSeconds,
	}
}

// Rewrite returns the playlist to serve for the given raw origin playlist
// and whether an ad break was inserted. name is the playlist name from the
// request path (master playlists pass through untouched); quality qualifies
// the inserted ad segment paths. An empty input produces an empty output
// with no session side effects.
func (rw *Rewriter) Rewrite(raw, name, quality string, session *Session) (out string, inserted bool) {
	if raw == "" {
		return "", false
	}
	if name == masterPlaylistName {
		return raw, false
	}

	switch rw.policy {
	case PolicyDurationAccumulated:
		return rw.rewriteByDuration(raw, quality, session)
	default:
		return rw.rewriteOnCue(raw, quality, session)
	}
}

// rewriteOnCue appends one ad break at the end of the fetched window when
// the session's cue fires. The cue is observed and cleared atomically, so
// concurrent playlist fetches insert the break exactly once.
func (rw *Rewriter) rewriteOnCue(raw, quality string, session *Session) (string, bool) {
	ads, ok := session.TakeAdBreakIfDue()
	if !ok {
		return raw, false
	}
	lines := strings.Split(raw, "\n")
	lines = append(lines, rw.adBreak(ads, quality)...)
	return strings.Join(lines, "\n"), true
}

// rewriteByDuration scans segment units, accumulating #EXTINF durations, and
// inserts a break each time the threshold is crossed, restarting the
// accumulator at zero.
func (rw *Rewriter) rewriteByDuration(raw, quality string, session *Session) (string, bool) {
	ads := session.adSegments
	in := strings.Split(raw, "\n")
	out := make([]string, 0, len(in))

	inserted := false
	accumulated := 0.0
	pendingURI := false
	for _, line := range in {
		out = append(out, line)
		if pendingURI {
			// URI line closing a segment unit.
			pendingURI = false
			if accumulated >= rw.breakThresholdSeconds {
				out = append(out, rw.adBreak(ads, quality)...)
				accumulated = 0
				inserted = true
			}
			continue
		}
		if d, ok := parseExtInf(line); ok {
			accumulated += d
			pendingURI = true
		}
	}
	return strings.Join(out, "\n"), inserted
}

// adBreak builds the discontinuity-bounded ad block:
//
//	#EXT-X-DISCONTINUITY
//	#EXTINF:<d>.0,
//	ads/<quality>/<id>
//	...
//	#EXT-X-DISCONTINUITY
func (rw *Rewriter) adBreak(ads []string, quality string) []string {
	prefix := "ads/"
	if quality != "" {
		prefix = "ads/" + quality + "/"
	}
	lines := make([]string, 0, 2+2*len(ads))
	lines = append(lines, "#EXT-X-DISCONTINUITY")
	for _, ad := range ads {
		lines = append(lines, fmt.Sprintf("#EXTINF:%d.0,", rw.adSegmentSeconds))
		lines = append(lines, prefix+ad)
	}
	lines = append(lines, "#EXT-X-DISCONTINUITY")
	return lines
}

// parseExtInf extracts the duration from an "#EXTINF:<duration>,<title>" line.
func parseExtInf(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(line, "#EXTINF:")
	if !ok {
		return 0, false
	}
	if i := strings.IndexByte(rest, ','); i >= 0 {
		rest = rest[:i]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}
