package coordinator

import (
	"slices"
	"strings"
	"time"
)

// Simulated link characteristics. They are informational only and never
// enforced.
const (
	channelBandwidth   = 1000 // messages/s
	channelLatency     = 5 * time.Millisecond
	channelReliability = 0.99
)

// Channel is the conduit between an unordered pair of swarms.
type Channel struct {
	ID           string
	Participants [2]string
	Established  time.Time
	Log          []Message
	Exchanges    int
	LastExchange any
	Bandwidth    int
	Latency      time.Duration
	Reliability  float64
}

type ChannelInfo struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	Established  time.Time `json:"established"`
	LogSize      int       `json:"log_size"`
	Exchanges    int       `json:"exchanges"`
}

// channelKey sorts the pair so a-b and b-a share one channel.
func channelKey(a, b string) string {
	pair := []string{a, b}
	slices.Sort(pair)
	return strings.Join(pair, "-")
}

// ensureChannelLocked opens the channel for a/b and reports whether it was
// new.
func (c *Coordinator) ensureChannelLocked(a, b string) bool {
	key := channelKey(a, b)
	if _, ok := c.channels[key]; ok {
		return false
	}
	pair := []string{a, b}
	slices.Sort(pair)
	c.channels[key] = &Channel{
		ID:           key,
		Participants: [2]string{pair[0], pair[1]},
		Established:  time.Now(),
		Bandwidth:    channelBandwidth,
		Latency:      channelLatency,
		Reliability:  channelReliability,
	}
	return true
}

// logOnChannel is the fallback for messages no handler claimed.
func (c *Coordinator) logOnChannel(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logOnChannelLocked(msg)
}

func (c *Coordinator) logOnChannelLocked(msg Message) {
	c.ensureChannelLocked(msg.From, msg.To)
	ch := c.channels[channelKey(msg.From, msg.To)]
	ch.Log = append(ch.Log, msg)
	c.stats.MessagesLogged++
}

// Channels lists every channel sorted by id.
func (c *Coordinator) Channels() []ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelInfo, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ChannelInfo{
			ID:           ch.ID,
			Participants: ch.Participants,
			Established:  ch.Established,
			LogSize:      len(ch.Log),
			Exchanges:    ch.Exchanges,
		})
	}
	slices.SortFunc(out, func(a, b ChannelInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// ChannelLog returns the fallback log of the a/b channel.
func (c *Coordinator) ChannelLog(a, b string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[channelKey(a, b)]
	if !ok {
		return nil
	}
	return append([]Message(nil), ch.Log...)
}
