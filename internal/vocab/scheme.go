package vocab

import (
	"fmt"
	"sort"
	"strings"
)

// Scheme names a span-encoding convention.
type Scheme string

const (
	SchemeNone  Scheme = ""
	SchemeIOB1  Scheme = "IOB1"
	SchemeIOB2  Scheme = "IOB2"
	SchemeBIOUL Scheme = "BIOUL"
	SchemeBMES  Scheme = "BMES"
	SchemeIOBES Scheme = "IOBES"
)

// ParseScheme accepts a configured scheme name. "BIO" is read as IOB2 and
// an empty string as SchemeNone.
func ParseScheme(raw string) (Scheme, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return SchemeNone, nil
	case "BIO", "IOB2":
		return SchemeIOB2, nil
	case "IOB1":
		return SchemeIOB1, nil
	case "BIOUL", "BILOU":
		return SchemeBIOUL, nil
	case "BMES":
		return SchemeBMES, nil
	case "IOBES", "BIOES":
		return SchemeIOBES, nil
	default:
		return SchemeNone, fmt.Errorf("vocab: unknown tagging scheme %q (want IOB1|IOB2|BIOUL|BMES|IOBES)", raw)
	}
}

var schemePrefixes = []struct {
	scheme   Scheme
	prefixes string
}{
	{SchemeIOB2, "BIO"},
	{SchemeBIOUL, "BIOUL"},
	{SchemeBMES, "BMES"},
	{SchemeIOBES, "IOBES"},
}

// GuessScheme infers the scheme from the set of tag prefixes (the part
// before the first '-'). ambiguous is true when the tag set fits both IOB1
// and IOB2; IOB2 is returned in that case. Tag sets matching no scheme, such
// as part-of-speech tags, yield SchemeNone.
func GuessScheme(tags []string) (scheme Scheme, ambiguous bool) {
	set := make(map[string]struct{})
	for _, t := range tags {
		prefix, _, _ := strings.Cut(t, "-")
		set[prefix] = struct{}{}
	}

	got := make([]string, 0, len(set))
	for p := range set {
		got = append(got, p)
	}

	sort.Strings(got)

	for _, c := range schemePrefixes {
		want := strings.Split(c.prefixes, "")
		sort.Strings(want)

		if strings.Join(got, "") == strings.Join(want, "") {
			return c.scheme, c.scheme == SchemeIOB2
		}
	}

	return SchemeNone, false
}
