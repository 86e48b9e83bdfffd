// Package textnorm canonicalizes message text so that strings which differ
// only in encoding noise (curly quotes, dash variants, non-breaking spaces,
// surrounding whitespace) compare equal. Normalized equality is the only
// text comparison the rest of the system performs.
package textnorm

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// glyphFolder maps apostrophe, quote, dash and space glyph variants to a
// single ASCII representative. NFKC does not fold these.
var glyphFolder = strings.NewReplacer(
	"‘", "'", // left single quotation mark
	"’", "'", // right single quotation mark
	"‚", "'", // single low-9 quotation mark
	"‛", "'", // single high-reversed-9 quotation mark
	"′", "'", // prime
	"`", "'", // grave accent
	"´", "'", // acute accent
	"“", `"`, // left double quotation mark
	"”", `"`, // right double quotation mark
	"„", `"`, // double low-9 quotation mark
	"«", `"`, // left guillemet
	"»", `"`, // right guillemet
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
	" ", " ", // no-break space
	" ", " ", // figure space
	" ", " ", // narrow no-break space
	"\r\n", "\n",
	"\r", "\n",
)

// Normalize canonicalizes text for comparison and storage. It applies NFKC
// compatibility normalization, folds quote/dash/space glyph variants to
// ASCII, and trims surrounding whitespace. Pure and total.
func Normalize(text string) string {
	out := norm.NFKC.String(text)
	out = glyphFolder.Replace(out)
	return strings.TrimSpace(out)
}

// Equal reports whether two raw strings normalize to the same text.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
