package voice

import (
	"fmt"
	"strings"
)

// Profile is a target voice.
type Profile string

const (
	ProfileOriginal   Profile = "original"
	ProfileMaleDeep   Profile = "male_deep"
	ProfileFemaleHigh Profile = "female_high"
	ProfileChild      Profile = "child"
	ProfileRobot      Profile = "robot"
	ProfileCelebrity1 Profile = "celebrity1"
	ProfileCelebrity2 Profile = "celebrity2"
)

// Multipliers are the fixed scale factors a profile applies.
type Multipliers struct {
	Volume    float64
	Frequency float64
}

var profiles = map[Profile]Multipliers{
	ProfileOriginal:   {Volume: 1.0, Frequency: 1.0},
	ProfileMaleDeep:   {Volume: 1.2, Frequency: 0.8},
	ProfileFemaleHigh: {Volume: 0.9, Frequency: 1.3},
	ProfileChild:      {Volume: 0.8, Frequency: 1.5},
	ProfileRobot:      {Volume: 1.1, Frequency: 0.9},
	ProfileCelebrity1: {Volume: 1.0, Frequency: 1.1},
	ProfileCelebrity2: {Volume: 1.0, Frequency: 0.95},
}

// Profiles lists every known profile in display order.
func Profiles() []Profile {
	return []Profile{
		ProfileOriginal,
		ProfileMaleDeep,
		ProfileFemaleHigh,
		ProfileChild,
		ProfileRobot,
		ProfileCelebrity1,
		ProfileCelebrity2,
	}
}

// ParseProfile converts a name to a Profile. Empty maps to original.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ProfileOriginal, nil
	}
	if !p.Valid() {
		return "", fmt.Errorf("voice: unknown profile %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	_, ok := profiles[p]
	return ok
}

// Multipliers returns the profile's scale factors. Unknown profiles get the
// identity.
func (p Profile) Multipliers() Multipliers {
	if m, ok := profiles[p]; ok {
		return m
	}
	return profiles[ProfileOriginal]
}

func (p Profile) String() string { return string(p) }
