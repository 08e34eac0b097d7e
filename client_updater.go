package mfbcontrol

// Contain the ClientUpdater object, which publishes JSON-encoded messages
// giving the latest controller state and spectra.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	Tag   string
	State interface{}
}

// Tags of the messages published by the feedback loop.
const (
	TagIntensity    = "BPM:INTEN"
	TagFeedbackFFT  = "FFT:BPM:AMP"
	TagReferenceFFT = "FFT:MOD:AMP"
	TagCorrection   = "CORRECTION"
	TagStatus       = "STATUS"
)

// publisher is anything that can send one tagged, JSON-encoded message.
type publisher interface {
	publish(tag string, message []byte) error
}

type zmqPublisher struct {
	socket *zmq.Socket
}

func (z zmqPublisher) publish(tag string, message []byte) error {
	_, err := z.socket.SendMessage(tag, message)
	return err
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket (and to the spectrum hub, if not nil) to publish any
// information that clients need to know. It returns when messages is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, hub *SpectrumHub) error {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(hostname); err != nil {
		return err
	}

	pubs := []publisher{zmqPublisher{pubSocket}}
	if hub != nil {
		pubs = append(pubs, hub)
	}
	forwardUpdates(messages, pubs...)
	return nil
}

// forwardUpdates JSON-encodes each update and hands it to every publisher.
// Problems are logged; publication never stops for a bad message.
func forwardUpdates(messages <-chan ClientUpdate, pubs ...publisher) {
	for update := range messages {
		message, err := json.Marshal(update.State)
		if err != nil {
			ProblemLogger.Printf("Error in json.Marshal of %s update: %v", update.Tag, err)
			continue
		}
		for _, p := range pubs {
			if err := p.publish(update.Tag, message); err != nil {
				ProblemLogger.Printf("Error publishing %s update: %v", update.Tag, err)
			}
		}
	}
}
