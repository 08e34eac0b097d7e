package mfbcontrol

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/spf13/viper"
)

// FeedbackControl is the RPC service that lets operators adjust a running
// FeedbackLoop and query its status.
type FeedbackControl struct {
	loop          *FeedbackLoop
	clientUpdates chan<- ClientUpdate
}

// NewFeedbackControl creates the RPC service for loop. Status broadcasts go
// to clientUpdates, which may be nil.
func NewFeedbackControl(loop *FeedbackLoop, clientUpdates chan<- ClientUpdate) *FeedbackControl {
	return &FeedbackControl{loop: loop, clientUpdates: clientUpdates}
}

// SetGain changes the gain applied from the next control cycle on.
func (s *FeedbackControl) SetGain(gain *float64, reply *bool) error {
	if math.IsNaN(*gain) || math.IsInf(*gain, 0) {
		*reply = false
		return fmt.Errorf("gain %v is not a finite number", *gain)
	}
	s.loop.Params().SetGain(*gain)
	UpdateLogger.Printf("Gain set to %v", *gain)
	viper.Set("controlgain", *gain)
	saveSettings()
	*reply = true
	s.broadcastStatus()
	return nil
}

// SetMinSignal changes the minimum feedback amplitude needed for actuation.
func (s *FeedbackControl) SetMinSignal(level *float64, reply *bool) error {
	if math.IsNaN(*level) || *level < 0 {
		*reply = false
		return fmt.Errorf("minimum signal %v must be non-negative", *level)
	}
	s.loop.Params().SetMinSignal(*level)
	UpdateLogger.Printf("Minimum signal set to %v", *level)
	viper.Set("minsig", *level)
	saveSettings()
	*reply = true
	s.broadcastStatus()
	return nil
}

// SetEnable turns modulation (and actuation) on or off. The loop applies the
// change at the top of its next cycle.
func (s *FeedbackControl) SetEnable(on *bool, reply *bool) error {
	s.loop.Params().SetEnabled(*on)
	UpdateLogger.Printf("Modulation enable requested: %t", *on)
	*reply = true
	s.broadcastStatus()
	return nil
}

// SetDAC writes an absolute DAC value (engineering units). The device may
// reject it; the rejection is returned to the caller.
func (s *FeedbackControl) SetDAC(egu *float64, reply *bool) error {
	if math.IsNaN(*egu) || math.IsInf(*egu, 0) {
		*reply = false
		return fmt.Errorf("DAC value %v is not a finite number", *egu)
	}
	err := s.loop.Actuator().SetAbsolute(context.Background(), *egu)
	*reply = (err == nil)
	if err != nil {
		ProblemLogger.Printf("SetDAC(%v) failed: %v", *egu, err)
		return err
	}
	UpdateLogger.Printf("DAC set to %v by operator", *egu)
	s.broadcastStatus()
	return nil
}

// GetStatus returns the current loop status.
func (s *FeedbackControl) GetStatus(dummy *string, reply *LoopStatus) error {
	*reply = s.loop.Status()
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (s *FeedbackControl) SendAllStatus(dummy *string, reply *bool) error {
	s.broadcastStatus()
	*reply = true
	return nil
}

func (s *FeedbackControl) broadcastStatus() {
	if s.clientUpdates != nil {
		s.clientUpdates <- ClientUpdate{TagStatus, s.loop.Status()}
	}
}

// saveSettings writes operator changes back to the config file, if there is one.
func saveSettings() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	if err := viper.WriteConfig(); err != nil {
		ProblemLogger.Printf("Could not save settings to %s: %v", viper.ConfigFileUsed(), err)
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server for control.
// It also broadcasts the loop status every few seconds. It returns only if
// the listener fails.
func RunRPCServer(control *FeedbackControl, portrpc int) error {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			control.broadcastStatus()
		}
	}()

	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return err
	}
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	UpdateLogger.Printf("RPC server listening on port %d", portrpc)
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accept error: %w", err)
		}
		UpdateLogger.Printf("new RPC connection established from %s", conn.RemoteAddr())
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
