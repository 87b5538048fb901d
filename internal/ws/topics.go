package ws

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/store"
)

// Topics clients may ask for
const (
	TopicEvents = "events"
	TopicPrices = "prices"
	// TopicPricePrefix selects one asset, e.g. "price:WETH"
	TopicPricePrefix = "price:"
)

// Channels maps client topics, plus an optional account address, to pubsub channels.
func Channels(topics []string, address string) []string {
	channels := make([]string, 0, len(topics)+1)
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		switch {
		case topic == TopicEvents:
			channels = append(channels, store.ChannelAllEvent)
		case topic == TopicPrices:
			channels = append(channels, store.KeyPrice+":*")
		case strings.HasPrefix(topic, TopicPricePrefix):
			if symbol := strings.TrimPrefix(topic, TopicPricePrefix); symbol != "" {
				channels = append(channels, store.PriceChannel(symbol))
			}
		}
	}

	if address != "" && common.IsHexAddress(address) {
		channels = append(channels, store.UserChannel(common.HexToAddress(address)))
	}

	return channels
}

// EventType names the SSE event or websocket message carrying channel.
func EventType(channel string) string {
	switch {
	case channel == store.ChannelAllEvent:
		return "engine_event"
	case strings.HasPrefix(channel, store.ChannelEvents+":"):
		return "account_event"
	case strings.HasPrefix(channel, store.KeyPrice+":"):
		return "price_update"
	default:
		return "update"
	}
}

func channelMatches(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}
