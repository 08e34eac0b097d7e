package mfbcontrol

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpectrumHub(t *testing.T) {
	hub := NewSpectrumHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.NumClients() == 1 }, time.Second, 5*time.Millisecond)

	messages := make(chan ClientUpdate, 1)
	messages <- ClientUpdate{TagReferenceFFT, []float64{0, 0.1, 0}}
	close(messages)
	forwardUpdates(messages, hub)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Tag   string
		State []float64
	}
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, TagReferenceFFT, msg.Tag)
	assert.Equal(t, []float64{0, 0.1, 0}, msg.State)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.NumClients() == 0 }, time.Second, 5*time.Millisecond)
	hub.Close()
}
