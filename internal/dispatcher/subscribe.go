package dispatcher

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// deliveries are dropped for it.
const subscriberBuffer = 64

// Subscribe returns a channel that receives every subsequent delivery, and a
// function that cancels the subscription. The channel is closed when the
// subscription is cancelled or the dispatcher stops. Deliveries are dropped
// for subscribers that do not keep up; the callback is never blocked.
func (d *Dispatcher) Subscribe() (<-chan Delivery, func()) {
	ch := make(chan Delivery, subscriberBuffer)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.subs == nil {
		close(ch)
		return ch, func() {}
	}
	d.mu.subs[ch] = struct{}{}
	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.mu.subs[ch]; ok {
			delete(d.mu.subs, ch)
			close(ch)
		}
	}
}

func (d *Dispatcher) publish(del Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.mu.subs {
		select {
		case ch <- del:
		default:
		}
	}
}

func (d *Dispatcher) closeSubscribers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.mu.subs {
		close(ch)
	}
	d.mu.subs = nil
}
