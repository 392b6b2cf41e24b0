package versions

import "github.com/Masterminds/semver/v3"

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// It uses semantic versioning for comparison when both strings are valid semver,
// and falls back to lexicographic string comparison otherwise.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}

// AtLeast reports whether version is equal to or newer than minimum. An empty
// minimum accepts any version; an unparsable version never satisfies a
// semver minimum.
func AtLeast(version, minimum string) bool {
	if minimum == "" {
		return true
	}
	minSemver, err := semver.NewVersion(minimum)
	if err != nil {
		return version >= minimum
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return !v.LessThan(minSemver)
}
