package main

import (
	"errors"

	"github.com/sweeney/estop-controller/internal/mqtt"
)

var errQueueFull = errors.New("command queue full")

// command is a remote request marshalled onto the loop goroutine.
type command struct {
	kind   mqtt.Command
	origin string
}

// commandQueue carries requests from HTTP and MQTT goroutines to runLoop.
// Submitting never blocks.
type commandQueue chan command

func newCommandQueue(size int) commandQueue {
	return make(commandQueue, size)
}

func (q commandQueue) submit(c command) error {
	select {
	case q <- c:
		return nil
	default:
		return errQueueFull
	}
}

// Trigger implements web.Commander.
func (q commandQueue) Trigger(origin string) error {
	return q.submit(command{kind: mqtt.CommandTrigger, origin: origin})
}
