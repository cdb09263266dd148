// Package malwarelist implements the Remote Malware List subsystem: fetch,
// disk cache, periodic refresh with ETag-conditional revalidation, and an
// in-memory copy-on-write index supporting lookup by identifier and version.
package malwarelist

import (
	"strings"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/version"
)

// Reason classifies why an entry is listed.
type Reason string

const (
	ReasonMalware Reason = "malware"
	ReasonOther   Reason = "other"
)

// Entry is one version-scoped malware-list record for a given identifier.
type Entry struct {
	Version version.PackageVersion
	Reason  Reason
}

// ListDataEntry mirrors the wire format of one element in the remote JSON
// array: {"package_name": "...", "version": "..."} with version optional.
type ListDataEntry struct {
	PackageName string  `json:"package_name"`
	Version     *string `json:"version,omitempty"`
}

// versionOrAny extracts the PackageVersion for a ListDataEntry: a present,
// non-empty version string parses normally; an absent/empty one is treated
// as the wildcard Any (the original malware feeds use an absent version to
// mean "every version of this name is malicious").
func (e ListDataEntry) versionOrAny() version.PackageVersion {
	if e.Version == nil || strings.TrimSpace(*e.Version) == "" {
		return version.Any
	}
	return version.ParsePackageVersion(*e.Version)
}

// EntryFormatter normalizes a ListDataEntry's package name into the key(s)
// used to index it. Most ecosystems return exactly one key (lowercase-trim);
// Skills.sh returns the owner/repo prefix of a three-part name so that any
// listed skill blocks the whole repository.
type EntryFormatter func(entry ListDataEntry) []string

// LowercaseTrimFormatter is the default formatter shared by most rules.
func LowercaseTrimFormatter(entry ListDataEntry) []string {
	name := strings.ToLower(strings.TrimSpace(entry.PackageName))
	if name == "" {
		return nil
	}
	return []string{name}
}
