package gateway

import "github.com/aidalabs/aida/pkg/models"

// AccessPolicy decides whether an inbound event may be processed.
type AccessPolicy interface {
	Allowed(ev *models.InboundEvent) bool
}

// ChannelPolicy is the default access policy: DMs are always allowed;
// channel messages are allowed when the allow-list is empty (the bot
// only sees channel events it was mentioned in) or when the channel is
// explicitly listed.
type ChannelPolicy struct {
	allowed map[string]bool
}

// NewChannelPolicy builds the policy from the configured channel list.
func NewChannelPolicy(channels []string) *ChannelPolicy {
	p := &ChannelPolicy{allowed: make(map[string]bool, len(channels))}
	for _, ch := range channels {
		p.allowed[ch] = true
	}
	return p
}

// Allowed implements AccessPolicy.
func (p *ChannelPolicy) Allowed(ev *models.InboundEvent) bool {
	if ev.IsDM {
		return true
	}
	if len(p.allowed) == 0 {
		return true
	}
	return p.allowed[ev.Channel]
}
