package olarm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Command is a vendor-neutral user intent. The value of each command doubles
// as its default wire action code, so resolution always has a fallback.
type Command string

const (
	CommandDisarm   Command = "area-disarm"
	CommandArmAway  Command = "area-arm"
	CommandArmStay  Command = "area-stay"
	CommandArmStay2 Command = "area-stay-2"
	CommandArmStay3 Command = "area-stay-3"
	CommandArmStay4 Command = "area-stay-4"
	CommandArmSleep Command = "area-sleep"
	CommandBypass   Command = "zone-bypass"
	CommandUnbypass Command = "zone-unbypass"
)

// Overrides maps an alarm make to the action codes it wants instead of the
// defaults. Most makes have no entry at all, which is fine: every command
// resolves to its own name unless overridden.
type Overrides map[string]map[Command]string

// Resolve returns the wire action code for cmd on the given alarm make.
// It never fails.
func (o Overrides) Resolve(alarmMake string, cmd Command) string {
	if code, ok := o[alarmMake][cmd]; ok {
		return code
	}
	return string(cmd)
}

// DefaultOverrides covers the makes known to need non-default codes. The
// IDS X64 has no unbypass action (bypass toggles) and arms sleep mode via
// its second stay profile.
func DefaultOverrides() Overrides {
	return Overrides{
		"ids_x64": {
			CommandUnbypass: string(CommandBypass),
			CommandArmStay:  string(CommandArmStay),
			CommandArmSleep: string(CommandArmStay2),
		},
	}
}

// LoadOverrides reads a YAML file of make -> command -> code entries and
// merges it over the built-in table, file entries winning.
func LoadOverrides(path string) (Overrides, error) {
	overrides := DefaultOverrides()
	if path == "" {
		return overrides, nil
	}

	bts, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read overrides: %w", err)
	}

	var loaded map[string]map[Command]string
	if err := yaml.Unmarshal(bts, &loaded); err != nil {
		return nil, fmt.Errorf("could not parse overrides: %w", err)
	}

	for alarmMake, table := range loaded {
		if overrides[alarmMake] == nil {
			overrides[alarmMake] = map[Command]string{}
		}
		for cmd, code := range table {
			overrides[alarmMake][cmd] = code
		}
	}
	return overrides, nil
}
