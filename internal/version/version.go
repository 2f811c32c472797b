// Package version checks GitHub for a newer Riptide release.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReleasesURL is the endpoint for the latest release.
var ReleasesURL = "https://api.github.com/repos/riptide-dl/riptide/releases/latest"

const requestTimeout = 10 * time.Second

// UpdateInfo describes the latest release relative to the running build.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	ReleaseURL      string
	UpdateAvailable bool
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// ErrDevBuild is returned for builds without a release version.
var ErrDevBuild = errors.New("development build")

// CheckForUpdate asks GitHub for the latest release. userAgent is sent as is;
// GitHub rejects requests without one.
func CheckForUpdate(ctx context.Context, currentVersion, userAgent string) (*UpdateInfo, error) {
	if currentVersion == "dev" || currentVersion == "" {
		return nil, ErrDevBuild
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release check: %s", resp.Status)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("release check: %w", err)
	}

	return &UpdateInfo{
		CurrentVersion:  currentVersion,
		LatestVersion:   rel.TagName,
		ReleaseURL:      rel.HTMLURL,
		UpdateAvailable: isNewerVersion(normalizeVersion(rel.TagName), normalizeVersion(currentVersion)),
	}, nil
}

func normalizeVersion(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}

// isNewerVersion compares MAJOR.MINOR.PATCH strings; suffixes are ignored.
func isNewerVersion(latest, current string) bool {
	l, c := parseVersion(latest), parseVersion(current)
	for i := range l {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

func parseVersion(version string) [3]int {
	var parts [3]int
	segments := strings.Split(version, ".")
	for i := 0; i < len(segments) && i < 3; i++ {
		num := segments[i]
		if idx := strings.IndexAny(num, "-+"); idx != -1 {
			num = num[:idx]
		}
		_, _ = fmt.Sscanf(num, "%d", &parts[i])
	}
	return parts
}
