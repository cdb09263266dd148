package version

import "strings"

// Kind discriminates the PackageVersion union.
type Kind uint8

const (
	// KindNone represents an empty/absent version.
	KindNone Kind = iota
	// KindAny is the wildcard that compares equal to any other PackageVersion.
	KindAny
	// KindSemver wraps a successfully parsed PragmaticSemver.
	KindSemver
	// KindUnknown retains an opaque string that failed semver parsing.
	KindUnknown
)

// PackageVersion is the tagged union the firewall rules use to compare an
// observed request version against a malware-list entry's version.
type PackageVersion struct {
	Kind   Kind
	Semver PragmaticSemver
	// Raw holds the trimmed original string for KindUnknown, and is empty
	// for the other kinds.
	Raw string
}

// None is the absent/empty PackageVersion.
var None = PackageVersion{Kind: KindNone}

// Any is the wildcard PackageVersion, equal to everything.
var Any = PackageVersion{Kind: KindAny}

// ParsePackageVersion classifies s: empty string is None, "*" is Any, a
// string that parses as PragmaticSemver is Semver, anything else is Unknown
// (trimmed, retained verbatim for case-insensitive comparison).
func ParsePackageVersion(s string) PackageVersion {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return None
	}
	if trimmed == "*" {
		return Any
	}
	if sv, err := Parse(trimmed); err == nil {
		return PackageVersion{Kind: KindSemver, Semver: sv}
	}
	return PackageVersion{Kind: KindUnknown, Raw: trimmed}
}

// FromSemver wraps an already-parsed PragmaticSemver as a concrete PackageVersion.
func FromSemver(v PragmaticSemver) PackageVersion { return PackageVersion{Kind: KindSemver, Semver: v} }

// Equal implements the PackageVersion equality semantics from the data
// model: Any equals everything, None equals Unknown(""), Unknown compares
// case-insensitively, Semver compares via PragmaticSemver.Equal.
func (v PackageVersion) Equal(o PackageVersion) bool {
	if v.Kind == KindAny || o.Kind == KindAny {
		return true
	}
	// Normalize None to Unknown("") for the comparison below.
	vk, vr := v.Kind, v.Raw
	if vk == KindNone {
		vk, vr = KindUnknown, ""
	}
	ok, or := o.Kind, o.Raw
	if ok == KindNone {
		ok, or = KindUnknown, ""
	}
	if vk != ok {
		return false
	}
	switch vk {
	case KindSemver:
		return v.Semver.Equal(o.Semver)
	case KindUnknown:
		return strings.EqualFold(strings.TrimSpace(vr), strings.TrimSpace(or))
	default:
		return true
	}
}

// String renders the version for diagnostics and JSON payloads.
func (v PackageVersion) String() string {
	switch v.Kind {
	case KindAny:
		return "*"
	case KindSemver:
		return v.Semver.String()
	case KindUnknown:
		return v.Raw
	default:
		return ""
	}
}

// IsNone reports whether v carries no concrete version information.
func (v PackageVersion) IsNone() bool {
	return v.Kind == KindNone || (v.Kind == KindUnknown && v.Raw == "")
}
