package edits

import "testing"

func TestFormatArtists(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Solo Artist", "Solo Artist"},
		{"Alpha & Beta", "Alpha & Beta"},
		{"Alpha feat. Beta", "Alpha & Beta"},
		{"Alpha ft Beta", "Alpha & Beta"},
		{"Alpha and Beta", "Alpha & Beta"},
		{"Alpha; Beta; Gamma", "Alpha, Beta & Gamma"},
		{"Alpha / Beta | Gamma, Delta", "Alpha, Beta, Gamma & Delta"},
		{"null", ""},
		{"Alpha feat. null", "Alpha"},
		{"", ""},
		{"  Alpha  ", "Alpha"},
	}

	for _, tt := range tests {
		if got := FormatArtists(tt.in); got != tt.want {
			t.Errorf("FormatArtists(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParentLabel(t *testing.T) {
	tests := []struct {
		publisher string
		want      string
	}{
		{"Universal", "Universal Music Group"},
		{"UNIVERSAL MUSIC OPERATIONS", "Universal Music Group"},
		{"Columbia", "Sony Music Entertainment"},
		{"Atlantic Records UK", "Warner Music Group"},
		{"Spinnin' Records", "Warner Music Group"},
		{"Tiny Indie Label", ""},
		{"", ""},
		// short fragments must not match by substring
		{"son", ""},
	}

	for _, tt := range tests {
		if got := ParentLabel(tt.publisher); got != tt.want {
			t.Errorf("ParentLabel(%q) = %q, want %q", tt.publisher, got, tt.want)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`Song: The "Best"`, "Song The Best"},
		{"Song - 128", "Song"},
		{"Song 7A", "Song"},
		{"Song 124 BPM", "Song"},
		// pool names carry key and BPM together, in either order
		{"Hot Spot [Dirty] 10A 93", "Hot Spot [Dirty]"},
		{"Hot Spot [Dirty] 93 10A", "Hot Spot [Dirty]"},
		{"Song - Radio Edit", "Song - Radio Edit"},
		{"Plain Song", "Plain Song"},
	}

	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBPMFromFilename(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Song - 128", 128},
		{"Song 95", 95},
		{"Song - 300", 0},  // outside tempo range
		{"Song - 12", 0},   // too slow
		{"Song Part 2", 0}, // trailing digit but not a tempo
		{"Song", 0},
	}

	for _, tt := range tests {
		if got := BPMFromFilename(tt.in); got != tt.want {
			t.Errorf("BPMFromFilename(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTrackID(t *testing.T) {
	tests := []struct {
		isrc, name, want string
	}{
		{"USABC2300001", "my-track_name", "USABC2300001_my_track_name"},
		{"USABC2300001", "My  Track", "USABC2300001_My_Track"},
		{"", "loose file", "loose_file"},
		{"ISRC1", "--odd__name--", "ISRC1_odd_name"},
	}

	for _, tt := range tests {
		if got := TrackID(tt.isrc, tt.name); got != tt.want {
			t.Errorf("TrackID(%q, %q) = %q, want %q", tt.isrc, tt.name, got, tt.want)
		}
	}
}

func TestNamedVariant(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Song (Instrumental)", "Instrumental"},
		{"Song Acapella", "Acapella"},
		{"Song (A Cappella)", "Acapella"},
		{"Song Extended Mix", "Extended"},
		{"Song - Radio Edit", ""},
		{"Plain Song", ""},
	}

	for _, tt := range tests {
		if got := NamedVariant(tt.title); got != tt.want {
			t.Errorf("NamedVariant(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestBPMValuePrefersMetadata(t *testing.T) {
	if got := bpmValue("124", "Song - 128"); got != 124 {
		t.Errorf("bpmValue with tag = %d, want 124", got)
	}
	if got := bpmValue("126.0", "Song"); got != 126 {
		t.Errorf("bpmValue with float tag = %d, want 126", got)
	}
	if got := bpmValue("", "Song - 128"); got != 128 {
		t.Errorf("bpmValue from filename = %d, want 128", got)
	}
	if got := bpmValue("", "Song"); got != 0 {
		t.Errorf("bpmValue unknown = %d, want 0", got)
	}
}

func TestReleaseUnix(t *testing.T) {
	if releaseUnix("") != 0 {
		t.Error("empty date should be 0")
	}
	if releaseUnix("not a date") != 0 {
		t.Error("garbage date should be 0")
	}
	if releaseUnix("2023-06-01") == 0 {
		t.Error("full date should parse")
	}
	if releaseUnix("2023") == 0 {
		t.Error("year-only date should parse")
	}
}
