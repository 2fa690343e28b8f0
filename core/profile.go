package core

import "time"

// BehaviorProfile describes an audience archetype used to steer plan
// generation: which pages a visitor of this kind gravitates to, how long
// they stay, and how much traffic weight they carry relative to the base
// admission rate.
type BehaviorProfile struct {
	Name            string        `json:"name"`
	Interests       []string      `json:"interests"`
	SessionDuration time.Duration `json:"session_duration"`
	RateFactor      float64       `json:"rate_factor"`
	PagePaths       []string      `json:"page_paths"`
}

// DefaultProfiles returns the built-in audience archetypes in rotation
// order. Callers may replace or extend them via configuration.
func DefaultProfiles() []BehaviorProfile {
	return []BehaviorProfile{
		{
			Name:            "gamer",
			Interests:       []string{"gaming", "esports", "technology"},
			SessionDuration: 5 * time.Minute,
			RateFactor:      1.8,
			PagePaths:       []string{"/", "/games", "/tournaments", "/community", "/leaderboard"},
		},
		{
			Name:            "casual_player",
			Interests:       []string{"gaming", "entertainment", "social"},
			SessionDuration: 3 * time.Minute,
			RateFactor:      1.3,
			PagePaths:       []string{"/", "/games", "/news", "/about"},
		},
		{
			Name:            "competitive_player",
			Interests:       []string{"esports", "competitive_gaming", "tournaments"},
			SessionDuration: 10 * time.Minute,
			RateFactor:      2.2,
			PagePaths:       []string{"/", "/tournaments", "/leaderboard", "/events", "/community"},
		},
		{
			Name:            "streamer",
			Interests:       []string{"streaming", "content_creation", "gaming"},
			SessionDuration: 7*time.Minute + 30*time.Second,
			RateFactor:      1.6,
			PagePaths:       []string{"/", "/community", "/events", "/news", "/support"},
		},
	}
}
