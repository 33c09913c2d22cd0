package config

import "time"

// parse is only called on validated values.
func parse(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func (rc RegistryConfig) StaleAfterDuration() time.Duration        { return parse(rc.StaleAfter) }
func (rc RegistryConfig) SweepIntervalDuration() time.Duration     { return parse(rc.SweepInterval) }
func (rc RegistryConfig) EvictionIntervalDuration() time.Duration  { return parse(rc.EvictionInterval) }
func (rc RegistryConfig) HeartbeatIntervalDuration() time.Duration { return parse(rc.HeartbeatInterval) }
func (rc RegistryConfig) ProbeTimeoutDuration() time.Duration      { return parse(rc.ProbeTimeout) }

func (bc BreakerConfig) ResetTimeoutDuration() time.Duration { return parse(bc.ResetTimeout) }

func (pc ProxyConfig) TimeoutDuration() time.Duration { return parse(pc.Timeout) }
