// Package edits turns separated stems into the final exported artifacts:
// variant selection, MP3+WAV export, tagging, and pending-download
// registration.
package edits

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// artistSplitRe covers the separator spellings found in upstream metadata:
// "feat.", "ft.", "&", "and", ";", "/", "|", ",".
var artistSplitRe = regexp.MustCompile(`(?i)\s*(?:\bfeat\.?\b|\bft\.?\b|\band\b|&|;|/|\||,)\s*`)

// FormatArtists joins a raw artist tag into the display form:
// one artist verbatim, two as "A & B", three or more as "A, B & C".
func FormatArtists(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return ""
	}

	parts := artistSplitRe.Split(raw, -1)
	var artists []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" && !strings.EqualFold(p, "null") {
			artists = append(artists, p)
		}
	}

	switch len(artists) {
	case 0:
		return ""
	case 1:
		return artists[0]
	case 2:
		return artists[0] + " & " + artists[1]
	default:
		return strings.Join(artists[:len(artists)-1], ", ") + " & " + artists[len(artists)-1]
	}
}

// parentLabels maps each conglomerate to publisher names that roll up to it.
var parentLabels = map[string][]string{
	"Universal Music Group": {
		"universal", "interscope", "capitol", "def jam", "island records",
		"republic records", "polydor", "motown", "emi", "casablanca",
	},
	"Sony Music Entertainment": {
		"sony", "columbia", "rca records", "epic records", "arista", "ultra records",
	},
	"Warner Music Group": {
		"warner", "atlantic records", "elektra", "parlophone", "rhino", "spinnin",
	},
}

// minimum length a substring hit must have to count as substantial
const labelMatchMinLen = 5

// ParentLabel derives the conglomerate a publisher belongs to, via
// case-insensitive exact or substantial-substring matching. Returns "" when
// the publisher is independent or unknown.
func ParentLabel(publisher string) string {
	p := strings.ToLower(strings.TrimSpace(publisher))
	if p == "" {
		return ""
	}

	for parent, names := range parentLabels {
		for _, name := range names {
			if p == name {
				return parent
			}
			if len(name) >= labelMatchMinLen && strings.Contains(p, name) {
				return parent
			}
			if len(p) >= labelMatchMinLen && strings.Contains(name, p) {
				return parent
			}
		}
	}
	return ""
}

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	// trailing " - 128" / " 128bpm" style BPM suffixes
	trailingBPMRe = regexp.MustCompile(`(?i)[\s_-]+(?:\d{2,3}(?:\.\d+)?\s*bpm|\d{2,3})\s*$`)
	// trailing " 5A" style Camelot key suffixes
	trailingKeyRe = regexp.MustCompile(`(?i)[\s_-]+\d{1,2}[ab]\s*$`)
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
)

// CleanTitle strips characters that cannot appear in a directory name and any
// trailing BPM / Camelot-key suffix left over from DJ pool filenames. Pool
// names often carry both ("Title 10A 93"), so the BPM and key are stripped
// independently, in either order.
func CleanTitle(title string) string {
	t := invalidFilenameChars.ReplaceAllString(title, "")
	t = trailingBPMRe.ReplaceAllString(t, "")
	t = trailingKeyRe.ReplaceAllString(t, "")
	t = trailingBPMRe.ReplaceAllString(t, "")
	t = multiSpaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// BPMFromFilename extracts a plausible BPM from a trailing number in the base
// filename ("Song - 128" → 128). Only trailing numbers in DJ tempo range count.
func BPMFromFilename(base string) int {
	m := regexp.MustCompile(`(\d{2,3})\s*$`).FindStringSubmatch(strings.TrimSpace(base))
	if m == nil {
		return 0
	}
	bpm, err := strconv.Atoi(m[1])
	if err != nil || bpm < 60 || bpm > 200 {
		return 0
	}
	return bpm
}

var trackIDSepRe = regexp.MustCompile(`[-_]+`)

// TrackID builds the deterministic per-file identifier: ISRC plus the
// sanitized name, dashes/underscores collapsed to spaces and spaces rewritten
// as single underscores.
func TrackID(isrc, name string) string {
	n := trackIDSepRe.ReplaceAllString(name, " ")
	n = multiSpaceRe.ReplaceAllString(n, " ")
	n = strings.TrimSpace(n)
	n = strings.ReplaceAll(n, " ", "_")
	if isrc == "" {
		return n
	}
	return fmt.Sprintf("%s_%s", isrc, n)
}

// variantKeywords are edit names that mark an upload as an already-derived
// variant; such uploads skip separation and export only themselves.
var variantKeywords = map[string]string{
	"instrumental": "Instrumental",
	"acapella":     "Acapella",
	"a cappella":   "Acapella",
	"extended":     "Extended",
}

// NamedVariant returns the variant an upload's title already names, or "".
func NamedVariant(title string) string {
	lower := strings.ToLower(title)
	for kw, variant := range variantKeywords {
		if strings.Contains(lower, kw) {
			return variant
		}
	}
	return ""
}
