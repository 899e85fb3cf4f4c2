package format

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultIMFFrequency is the playback rate of most id Software titles
// (Commander Keen, Bio Menace, Monster Bash).
const DefaultIMFFrequency = 560

// FrequencyTable maps game or extension names to IMF playback rates in Hz.
// Keys are matched case-insensitively and a missing key resolves to
// Default.
type FrequencyTable struct {
	Default int
	Names   map[string]int
}

// DefaultFrequencies returns the known IMF playback rates.
func DefaultFrequencies() FrequencyTable {
	return FrequencyTable{
		Default: DefaultIMFFrequency,
		Names: map[string]int{
			"duke": 280,
			"wolf": 700,
			"wlf":  700,
		},
	}
}

// Lookup returns the rate registered for name, or the table default.
func (t FrequencyTable) Lookup(name string) int {
	if hz, ok := t.Names[strings.ToLower(strings.TrimSpace(name))]; ok {
		return hz
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultIMFFrequency
}

// Resolve picks the IMF rate for a file. An explicit integer argument wins,
// a non-numeric argument is looked up by name and with no argument the file
// extension is used as the lookup key.
func (t FrequencyTable) Resolve(arg string, ext string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return t.Lookup(strings.TrimPrefix(ext, ".")), nil
	}
	hz, err := strconv.Atoi(arg)
	if err != nil {
		return t.Lookup(arg), nil
	}
	if hz <= 0 {
		return 0, fmt.Errorf("imf frequency must be positive: %d", hz)
	}
	return hz, nil
}
