package edits

import (
	"strings"
	"testing"

	"github.com/stemforge/internal/media"
)

func TestMetadataArgsIncludesDerivedFrames(t *testing.T) {
	tags := media.Tags{
		Title:     "Song - Main",
		Artist:    "Alpha",
		Publisher: "Interscope Records",
		ISRC:      "USUM71700001",
	}
	spec := ExportSpec{
		Tags:    tags,
		Label:   ParentLabel(tags.Publisher),
		TrackID: TrackID(tags.ISRC, "Song - 128"),
	}

	joined := strings.Join(metadataArgs(spec), " ")
	for _, want := range []string{
		"LABEL=Universal Music Group",
		"TRACK_ID=USUM71700001_Song_128",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("metadata args missing %q: %s", want, joined)
		}
	}
}

func TestMetadataArgsOmitsEmptyFields(t *testing.T) {
	joined := strings.Join(metadataArgs(ExportSpec{Tags: media.Tags{Title: "Only Title"}}), " ")
	if !strings.Contains(joined, "title=Only Title") {
		t.Errorf("want title arg, got %s", joined)
	}
	for _, absent := range []string{"LABEL=", "TRACK_ID=", "publisher="} {
		if strings.Contains(joined, absent) {
			t.Errorf("unexpected %q in %s", absent, joined)
		}
	}
}
