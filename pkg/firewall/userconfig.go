package firewall

import (
	"net/url"
	"strings"
	"time"
)

// UserConfig carries per-request overrides derived either from a
// dash-labeled proxy-auth username or from the X-Aikido-Safe-Chain-Config
// header. A nil *UserConfig means "no config was ever parsed" and is
// distinct from a zero-value one, though every current consumer treats the
// two identically (falls back to its own default).
type UserConfig struct {
	MinPackageAge         time.Duration
	MinPackageAgeIsSet    bool
}

// ParseUsernameLabels implements the two-state label machine from the
// per-user configuration scheme: dash-separated labels are scanned for the
// key "min_pkg_age"; the label immediately following it has its
// underscores turned into spaces and is parsed as a humantime-style
// duration. A bad duration aborts the whole parse and yields (nil, err).
// If no label was ever recognized, (nil, nil) is returned.
func ParseUsernameLabels(username string) (*UserConfig, error) {
	if username == "" {
		return nil, nil
	}
	labels := strings.Split(username, "-")

	const (
		stateKey = iota
		stateValueMinPackageAge
	)

	state := stateKey
	var cfg UserConfig
	consumed := false

	for _, raw := range labels {
		label := strings.TrimSpace(raw)
		switch state {
		case stateKey:
			if strings.EqualFold(label, "min_pkg_age") {
				state = stateValueMinPackageAge
				consumed = true
			}
		case stateValueMinPackageAge:
			spaced := strings.ReplaceAll(label, "_", " ")
			d, err := ParseHumanDuration(spaced)
			if err != nil {
				return nil, err
			}
			cfg.MinPackageAge = d
			cfg.MinPackageAgeIsSet = true
			state = stateKey
		}
	}

	if !consumed {
		return nil, nil
	}
	return &cfg, nil
}

// ParseConfigHeader decodes the X-Aikido-Safe-Chain-Config header, an
// HTML-form-encoded (application/x-www-form-urlencoded) serialization of
// UserConfig, e.g. "min_package_age=48h".
func ParseConfigHeader(value string) (*UserConfig, error) {
	if value == "" {
		return nil, nil
	}
	values, err := url.ParseQuery(value)
	if err != nil {
		return nil, err
	}
	raw := values.Get("min_package_age")
	if raw == "" {
		return nil, nil
	}
	d, err := ParseHumanDuration(raw)
	if err != nil {
		return nil, err
	}
	return &UserConfig{MinPackageAge: d, MinPackageAgeIsSet: true}, nil
}
