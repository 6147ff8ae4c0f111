package config

import "fmt"

// KeyInfo is one row of `config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll lists every key with its effective value. Secrets only report
// whether they are set.
func ShowAll(cfg Config) []KeyInfo {
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		row := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		switch v := s.extract(cfg); {
		case !s.secret:
			row.Value = fmt.Sprint(v)
		case v != "":
			row.Value = "(set)"
		default:
			row.Value = "(not set)"
		}
		rows = append(rows, row)
	}
	return rows
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret; set %s%s", key, s.env, apiKeyHint(s.account))
	}
	v, err := s.typ.parse(value)
	if err != nil {
		return fmt.Errorf("%s expects a %s, got %q", key, s.typ, value)
	}
	return s.write(b, v)
}

// ValidKeys returns the keys accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
