package version

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Version holds the current build version. Override with
// -ldflags "-X github.com/stemforge/internal/version.Version=v1.2.3".
var Version = "dev"

const (
	separator = "────────────────────────────────────────────────────────────"
	banner    = `
      _                  __
  ___| |_ ___ _ __ ___  / _| ___  _ __ __ _  ___
 / __| __/ _ \ '_ ' _ \| |_ / _ \| '__/ _' |/ _ \
 \__ \ ||  __/ | | | | |  _| (_) | | | (_| |  __/
 |___/\__\___|_| |_| |_|_|  \___/|_|  \__, |\___|
                                      |___/
`
)

// Banner returns the ASCII-art project banner.
func Banner() string {
	return strings.Trim(banner, "\n")
}

// PrintBanner writes the decorated banner and version info to w (stdout if nil).
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, Banner())
	fmt.Fprintf(w, "\n  stemforge %s\n", Version)
	fmt.Fprintf(w, "  Stem Separation & Artifact Lifecycle Service\n")
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
}
