package config

import "time"

// SchedulerConfig defines settings for the batch offer scheduler.  When
// Enabled is false the background loop does not start; offers can still be
// driven manually through the admin run endpoint.  Interval is the period
// between runs, OfferWindow how long a guest has to accept an offer, and
// HoldTTL the lifetime of seat-increase holds awaiting payment capture.
type SchedulerConfig struct {
    Enabled     bool
    Interval    time.Duration
    OfferWindow time.Duration
    HoldTTL     time.Duration
}

// LoadSchedulerConfig reads environment variables to build a
// SchedulerConfig.  Defaults are used when variables are not set.
func LoadSchedulerConfig() SchedulerConfig {
    return SchedulerConfig{
        Enabled:     envBool("SCHEDULER_ENABLED", true),
        Interval:    envDur("SCHEDULER_INTERVAL", time.Minute),
        OfferWindow: envDur("OFFER_WINDOW", 4*time.Hour),
        HoldTTL:     envDur("HOLD_TTL", 30*time.Minute),
    }
}
