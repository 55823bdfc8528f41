package event

// Publisher 事件发布接口
type Publisher interface {
	Publish(subject string, evt *Event) error
	Close() error
}

// Subscriber receives events published by other processes.
type Subscriber interface {
	Subscribe(subject string, fn func(*Event)) (Subscription, error)
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}
