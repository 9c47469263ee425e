package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// PresenceUpdater sets the bot's status line on the chat network.
type PresenceUpdater interface {
	UpdatePresence(ctx context.Context, text string) error
}

// TopicUpdater sets the topic of the bridged channel.
type TopicUpdater interface {
	SetTopic(ctx context.Context, text string) error
}

// PresencePublisher keeps the bot status and the channel topic in line with
// the roster. Both are pushed on a fixed interval and, rate limited,
// whenever the roster changes. Either target may be absent.
type PresencePublisher struct {
	target   PresenceUpdater
	roster   *Roster
	running  func() bool
	interval time.Duration
	limiter  *rate.Limiter

	topic        TopicUpdater
	topicLimiter *rate.Limiter
	lastTopic    string
}

func NewPresencePublisher(target PresenceUpdater, roster *Roster, running func() bool, interval time.Duration) *PresencePublisher {
	return &PresencePublisher{
		target:   target,
		roster:   roster,
		running:  running,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(5*time.Second), 2),
	}
}

// WithTopic also keeps the channel topic current. Discord allows two topic
// edits per channel every ten minutes, so edits are only made when the text
// changes and a denied edit waits for a later tick.
func (p *PresencePublisher) WithTopic(topic TopicUpdater) *PresencePublisher {
	p.topic = topic
	p.topicLimiter = rate.NewLimiter(rate.Every(5*time.Minute), 2)
	return p
}

// Run publishes until ctx is done, then pushes the final status once.
func (p *PresencePublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.publishFinal(ctx)
			return
		case <-ticker.C:
			p.publish(ctx)
			p.syncTopic(ctx, false)
		case <-p.roster.Changed():
			if p.limiter.Allow() {
				p.publish(ctx)
			}
			p.syncTopic(ctx, false)
		}
	}
}

// Status is the text the bot should currently show.
func (p *PresencePublisher) Status() string {
	if !p.serverUp() {
		return offlinePresence
	}
	return formatPresence(p.roster.Snapshot())
}

// Topic is the text the channel topic should currently show.
func (p *PresencePublisher) Topic() string {
	if !p.serverUp() {
		return offlinePresence
	}
	return formatPlayerList(p.roster.Snapshot(), true)
}

func (p *PresencePublisher) serverUp() bool {
	return p.running == nil || p.running()
}

// publish is fire-and-forget; the next tick retries implicitly.
func (p *PresencePublisher) publish(ctx context.Context) {
	if p.target == nil {
		return
	}
	if err := p.target.UpdatePresence(ctx, p.Status()); err != nil {
		log.Printf("update presence: %v", err)
	}
}

func (p *PresencePublisher) syncTopic(ctx context.Context, force bool) {
	if p.topic == nil {
		return
	}
	text := p.Topic()
	if text == p.lastTopic {
		return
	}
	if !force && !p.topicLimiter.Allow() {
		return
	}
	if err := p.topic.SetTopic(ctx, text); err != nil {
		log.Printf("update channel topic: %v", err)
		return
	}
	p.lastTopic = text
}

func (p *PresencePublisher) publishFinal(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	p.publish(ctx)
	p.syncTopic(ctx, true)
}
