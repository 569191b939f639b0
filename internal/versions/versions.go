// Package versions orders agent version strings and recovers the version
// embedded in a staged executable's file name.
package versions

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Marker precedes the version in a staged executable's name, as in
// "warden-agent-1.3.0" or "warden-agent-1.3.0.exe".
const Marker = "-agent-"

// ExeSuffix is stripped from candidate versions.
const ExeSuffix = ".exe"

// Candidate is a staged executable whose name carries a version.
type Candidate struct {
	Path    string
	Version string
}

// ParseCandidate recovers the version from a candidate path. The last
// occurrence of Marker wins so a marker in a parent directory name is
// ignored. It reports false when the path carries no version.
func ParseCandidate(path string) (Candidate, bool) {
	i := strings.LastIndex(path, Marker)
	if i < 0 {
		return Candidate{}, false
	}

	v := path[i+len(Marker):]
	if strings.ContainsAny(v, `/\`) {
		return Candidate{}, false
	}
	if len(v) >= len(ExeSuffix) && strings.EqualFold(v[len(v)-len(ExeSuffix):], ExeSuffix) {
		v = v[:len(v)-len(ExeSuffix)]
	}
	if !Valid(v) {
		return Candidate{}, false
	}

	return Candidate{Path: path, Version: v}, true
}

// Valid reports whether v is a semantic version or a dotted numeric version
// such as "1.2.3.4". Partial downloads and checksum files ("1.4.0.part",
// "1.4.0.sha256") are not versions.
func Valid(v string) bool {
	if v == "" {
		return false
	}
	if _, err := semver.NewVersion(v); err == nil {
		return true
	}
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	for _, p := range parts {
		if _, err := strconv.ParseUint(p, 10, 64); err != nil {
			return false
		}
	}
	return true
}

// HasMarker reports whether a file name could be a staged executable: it
// carries the marker followed by a valid version.
func HasMarker(name string) bool {
	_, ok := ParseCandidate(name)
	return ok
}

// IsNewer reports whether the candidate at path carries a version strictly
// greater than running. Paths without a version are never newer.
func IsNewer(path, running string) bool {
	c, ok := ParseCandidate(path)
	if !ok {
		return false
	}
	return Compare(c.Version, running) > 0
}

// Compare compares two version strings.
// Returns: -1 if a < b, 0 if equal, 1 if a > b.
//
// When both sides parse as semantic versions they are ordered by semver
// rules. Anything else (four-part versions, "dev") falls back to a
// component-wise comparison.
func Compare(a, b string) int {
	av, aerr := semver.NewVersion(a)
	bv, berr := semver.NewVersion(b)
	if aerr == nil && berr == nil {
		return av.Compare(bv)
	}
	return compareComponents(a, b)
}

// compareComponents splits on '.', '-', '+' and '_' and compares part by
// part. Numeric parts compare as integers and sort above non-numeric ones;
// missing parts count as "0".
func compareComponents(a, b string) int {
	ap := splitComponents(a)
	bp := splitComponents(b)

	n := max(len(ap), len(bp))
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(ap) {
			x = ap[i]
		}
		if i < len(bp) {
			y = bp[i]
		}
		if c := comparePart(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func splitComponents(s string) []string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '-' || r == '+' || r == '_'
	})
}

func comparePart(x, y string) int {
	xn, xerr := strconv.ParseUint(x, 10, 64)
	yn, yerr := strconv.ParseUint(y, 10, 64)

	switch {
	case xerr == nil && yerr == nil:
		switch {
		case xn < yn:
			return -1
		case xn > yn:
			return 1
		}
		return 0
	case xerr == nil:
		return 1
	case yerr == nil:
		return -1
	}
	return strings.Compare(x, y)
}

// Latest returns the candidate with the highest version among names in dir.
// It reports false when none of the names carries a version.
func Latest(dir string, names []string) (Candidate, bool) {
	var best Candidate
	found := false
	for _, name := range names {
		c, ok := ParseCandidate(filepath.Join(dir, name))
		if !ok {
			continue
		}
		if !found || Compare(c.Version, best.Version) > 0 {
			best = c
			found = true
		}
	}
	return best, found
}
