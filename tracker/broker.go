package tracker

import (
	"time"
)

type (
	// Broker is the message broker between the audio thread, the background
	// workers and the model. Only the model receives messages; the player
	// and the workers must never block when sending, so all sends go
	// through TrySend.
	Broker struct {
		ToModel chan MsgToModel
	}

	// MsgToModel is a message sent to the model. Data is one of
	// PlaybackFinished, TaskResult or Alert.
	MsgToModel struct {
		Data any
	}

	// PlaybackFinished is sent by the player when the cursor reaches the end
	// of the session.
	PlaybackFinished struct {
		Position int
	}

	// TaskResult is sent when a background task finishes.
	TaskResult struct {
		Name  string
		Count int
		Err   error
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToModel: make(chan MsgToModel, 1024),
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
