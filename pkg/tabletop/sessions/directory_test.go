package sessions

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/tabletop/pkg/tabletop/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAndDisconnect(t *testing.T) {
	dir := NewDirectory(4)

	a := dir.Connect(1, 10)
	b := dir.Connect(1, 11)
	c := dir.Connect(2, 10)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Len(t, dir.Sessions(1), 2)
	assert.Len(t, dir.Sessions(2), 1)
	assert.Empty(t, dir.Sessions(3))
	assert.Equal(t, 3, dir.Count())
	assert.Equal(t, uint(11), b.UserID())
	assert.Equal(t, uint(2), c.RoomID())

	dir.Disconnect(a)
	dir.Disconnect(a)

	require.Len(t, dir.Sessions(1), 1)
	assert.Equal(t, b.ID(), dir.Sessions(1)[0].ID())
	assert.Equal(t, 2, dir.Count())

	_, open := <-a.Events()
	assert.False(t, open, "queue should be closed after disconnect")
}

func TestDeliverNeverBlocks(t *testing.T) {
	dir := NewDirectory(2)
	s := dir.Connect(1, 1)

	assert.True(t, s.Deliver(Event{Name: "one"}))
	assert.True(t, s.Deliver(Event{Name: "two"}))
	assert.False(t, s.Deliver(Event{Name: "three"}), "full queue should drop")

	assert.Equal(t, "one", (<-s.Events()).Name)
	assert.True(t, s.Deliver(Event{Name: "four"}))

	dir.Disconnect(s)
	assert.False(t, s.Deliver(Event{Name: "five"}), "closed session should drop")
}

func TestDeliverRacesWithDisconnect(t *testing.T) {
	dir := NewDirectory(1)
	s := dir.Connect(1, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Deliver(Event{Name: "tick"})
			}
		}()
	}
	dir.Disconnect(s)
	wg.Wait()
}

func TestCloseDisconnectsEverything(t *testing.T) {
	dir := NewDirectory(1)
	sessions := []*Session{dir.Connect(1, 1), dir.Connect(2, 2)}

	dir.Close()

	assert.Equal(t, 0, dir.Count())
	for _, s := range sessions {
		_, open := <-s.Events()
		assert.False(t, open)
	}
}

// readEvent reads one server-sent event
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
	}
}

func TestStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := NewDirectory(4)

	r := gin.New()
	room := r.Group("/rooms/:room", func(c *gin.Context) {
		c.Set(auth.ContextKeyUserID, uint(7))
		c.Set(auth.ContextKeyRoomID, uint(1))
		c.Next()
	})
	dir.RegisterRoutes(room)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rooms/1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	name, sid := readEvent(t, reader)
	assert.Equal(t, SessionEvent, name)

	require.Eventually(t, func() bool { return dir.Count() == 1 }, time.Second, 10*time.Millisecond)
	s := dir.Sessions(1)[0]
	assert.Equal(t, sid, s.ID())
	assert.Equal(t, uint(7), s.UserID())

	require.True(t, s.Deliver(Event{Name: "Group.Remove", Payload: json.RawMessage(`"g1"`)}))
	name, data := readEvent(t, reader)
	assert.Equal(t, "Group.Remove", name)
	assert.Equal(t, `"g1"`, data)

	// closing the session ends the stream
	dir.Disconnect(s)
	_, err = reader.ReadString('\n')
	assert.Error(t, err)
}
