package stream

// Observer receives connection status changes and decoded messages. Calls
// are made from a single goroutine in the order the events happened, so an
// Observer needs no locking of its own and may call back into the Manager.
type Observer interface {
	OnStatus(status Status)
	OnMessage(msg Message)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Status  func(Status)
	Message func(Message)
}

// OnStatus implements Observer.
func (f ObserverFuncs) OnStatus(status Status) {
	if f.Status != nil {
		f.Status(status)
	}
}

// OnMessage implements Observer.
func (f ObserverFuncs) OnMessage(msg Message) {
	if f.Message != nil {
		f.Message(msg)
	}
}
