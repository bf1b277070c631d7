package broker

type publishChannelContent[TID comparable, TPayload any] struct {
	ID      TID
	Channel chan TPayload
}

type subscribeChannelContent[TID comparable, TPayload any] struct {
	ID      TID
	Channel chan chan TPayload
}

// ChannelBroker passes a channel with ID from producer to the first consumer.
// The subsequent consumers block until the producer unpublishes so that they
// can resolve the situation e.g. by reading the finished state.
//
// The web server streams interpretation progress through it. The producer is the
// session running the interpretation and the first consumer is the HTTP handler
// that returns the event stream. Subsequent consumers, usually reconnects, get
// the final state once the producer is finished.
type ChannelBroker[TID comparable, TPayload any] struct {
	stopChannel      chan struct{}
	publishChannel   chan publishChannelContent[TID, TPayload]
	unpublishChannel chan TID
	subscribeChannel chan subscribeChannelContent[TID, TPayload]
}

// NewChannelBroker creates a new ChannelBroker. Run Start in a goroutine and use Stop to stop it.
func NewChannelBroker[TID comparable, TPayload any]() *ChannelBroker[TID, TPayload] {
	broker := ChannelBroker[TID, TPayload]{
		stopChannel:      make(chan struct{}),
		publishChannel:   make(chan publishChannelContent[TID, TPayload]),
		unpublishChannel: make(chan TID),
		subscribeChannel: make(chan subscribeChannelContent[TID, TPayload]),
	}
	return &broker
}

// Start listening for publish, unpublish, and subscribe events. This function blocks until Stop() is called,
// so it should be called in a goroutine. Waiting subscribers are released when it stops.
func (b *ChannelBroker[TID, TPayload]) Start() {
	publishedChannels := map[TID]chan TPayload{}
	subscriberLists := map[TID][]chan chan TPayload{}
	release := func(id TID) {
		for _, s := range subscriberLists[id] {
			close(s)
		}
		delete(subscriberLists, id)
	}
	for {
		select {
		case <-b.stopChannel:
			for id := range subscriberLists {
				release(id)
			}
			return

		case subscription := <-b.subscribeChannel:
			c := publishedChannels[subscription.ID]
			if c == nil {
				// Signal to the subscriber that the producer is finished (or haven't started yet)
				close(subscription.Channel)
				break
			}
			if _, taken := subscriberLists[subscription.ID]; !taken {
				// First subscriber gets the channel from the producer
				subscription.Channel <- c
				subscriberLists[subscription.ID] = []chan chan TPayload{}
			} else {
				// Subsequent subscribers block until the producer is finished
				subscriberLists[subscription.ID] = append(subscriberLists[subscription.ID], subscription.Channel)
			}

		case publication := <-b.publishChannel:
			release(publication.ID)
			publishedChannels[publication.ID] = publication.Channel

		case id := <-b.unpublishChannel:
			delete(publishedChannels, id)
			release(id)
		}
	}
}

// Stop the goroutine that handles the broker. Calls after Stop return without blocking.
func (b *ChannelBroker[TID, TPayload]) Stop() {
	close(b.stopChannel)
}

// Subscribe to the channel with ID. Returns a channel that will receive the channel corresponding to the ID.
// If the channel is not yet published, the returned channel will be closed.
// If there's already a subscriber, the returned channel is closed once the producer unpublishes.
func (b *ChannelBroker[TID, TPayload]) Subscribe(id TID) chan chan TPayload {
	channel := make(chan chan TPayload, 1)
	select {
	case b.subscribeChannel <- subscribeChannelContent[TID, TPayload]{ID: id, Channel: channel}:
	case <-b.stopChannel:
		close(channel)
	}
	return channel
}

// Publish the channel with ID. The channel will be sent to the first subscriber. Publishing again under the
// same ID replaces the previous channel.
func (b *ChannelBroker[TID, TPayload]) Publish(id TID, channel chan TPayload) {
	select {
	case b.publishChannel <- publishChannelContent[TID, TPayload]{ID: id, Channel: channel}:
	case <-b.stopChannel:
	}
}

// Unpublish the channel with ID and release the subscribers waiting for it. Producers should close the channel
// before unpublishing so that the first subscriber sees the end of the stream. The channel should be buffered
// when nobody might subscribe, otherwise the producer blocks.
func (b *ChannelBroker[TID, TPayload]) Unpublish(id TID) {
	select {
	case b.unpublishChannel <- id:
	case <-b.stopChannel:
	}
}
