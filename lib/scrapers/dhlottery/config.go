package dhlottery

import "database/sql"

// Config is fixed at construction; the client never mutates it.
type Config struct {
	Username string `json:"username"`
	Password string `json:"password"`

	// host overrides, used by tests and regional mirrors
	PrimaryURL  string `json:"primaryUrl"`
	OnlineURL   string `json:"onlineUrl"`
	ELotteryURL string `json:"elotteryUrl"`

	// RelayURL routes all traffic through a relay deployment; empty
	// means direct.
	RelayURL string `json:"relayUrl"`

	UseProxies bool `json:"useProxies"`
	// ProxyRequired forbids the direct fallback when the pool is
	// empty; Perform fails with ErrProxyExhausted instead.
	ProxyRequired bool `json:"proxyRequired"`

	// pacing floor bounds in seconds; zero keeps the defaults
	MinDelaySeconds int `json:"minDelaySeconds"`
	MaxDelaySeconds int `json:"maxDelaySeconds"`

	// MaxAttempts is the per-operation retry budget.
	MaxAttempts int `json:"maxAttempts"`

	// ProxyDB persists validated proxy candidates across restarts.
	ProxyDB *sql.DB `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.PrimaryURL == "" {
		c.PrimaryURL = "https://www.dhlottery.co.kr"
	}
	if c.OnlineURL == "" {
		c.OnlineURL = "https://ol.dhlottery.co.kr"
	}
	if c.ELotteryURL == "" {
		c.ELotteryURL = "https://el.dhlottery.co.kr"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	return c
}
