package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MusicFlow/core/composition"
	"MusicFlow/core/studio"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStudio logs in a fresh user and creates a studio for them.
func openStudio(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.doJSON(http.MethodPost, "/api/studio", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view studio.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotEmpty(t, view.ID)
	assert.Empty(t, view.Notes)
	assert.False(t, view.CanPlay)
	return view.ID
}

func decodeView(t *testing.T, raw interface{}) studio.View {
	t.Helper()
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	var view studio.View
	require.NoError(t, json.Unmarshal(b, &view))
	return view
}

func TestStudioRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	env.csrf()
	rec := env.doJSON(http.MethodPost, "/api/studio", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStudioComposeFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice", "alice@example.com", "secret1")
	env.login("alice", "secret1")
	id := openStudio(t, env)
	base := "/api/studio/" + id

	// 播放前必须有内容
	rec := env.doJSON(http.MethodPost, base+"/playback/toggle", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Add some notes or chords first!", decodeBody(t, rec)["error"])

	rec = env.doJSON(http.MethodPost, base+"/notes", map[string]interface{}{
		"name":     "E",
		"octave":   2,
		"duration": "half",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	note := body["note"].(map[string]interface{})
	assert.Equal(t, "E", note["name"])
	assert.Equal(t, float64(2), note["durationValue"])
	firstID := note["id"].(string)

	rec = env.doJSON(http.MethodPost, base+"/notes", map[string]interface{}{"name": "H", "octave": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown note name.", decodeBody(t, rec)["error"])

	rec = env.doJSON(http.MethodPost, base+"/notes/parse", map[string]string{"text": "G3-quarter X9 B3-1.5 C#4-eighth"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	assert.Len(t, body["notes"], 3)
	assert.Equal(t, []interface{}{"X9"}, body["skipped"])
	view := decodeView(t, body["studio"])
	require.Len(t, view.Notes, 4)
	assert.Equal(t, composition.Custom, view.Notes[2].Duration)
	assert.True(t, view.CanPlay)

	rec = env.doJSON(http.MethodPost, base+"/notes/parse", map[string]string{"text": "A2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, decodeBody(t, rec)["skipped"])

	rec = env.doJSON(http.MethodDelete, base+"/notes/"+firstID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["removed"])
	rec = env.doJSON(http.MethodDelete, base+"/notes/"+firstID, nil)
	assert.Equal(t, false, decodeBody(t, rec)["removed"])

	rec = env.doJSON(http.MethodPost, base+"/chords", map[string]string{"name": "Am"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["added"])
	rec = env.doJSON(http.MethodPost, base+"/chords", map[string]string{"name": "Am"})
	assert.Equal(t, false, decodeBody(t, rec)["added"])
	rec = env.doJSON(http.MethodPost, base+"/chords", map[string]string{"name": "G"})
	view = decodeView(t, decodeBody(t, rec)["studio"])
	assert.Equal(t, []string{"Am", "G"}, view.Chords)

	rec = env.doJSON(http.MethodDelete, base+"/chords/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeView(t, decodeBody(t, rec)["studio"])
	assert.Equal(t, []string{"G"}, view.Chords)

	rec = env.doJSON(http.MethodPut, base+"/settings", map[string]interface{}{"tempo": 500, "capo": 2, "key": "G Major"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settings := decodeBody(t, rec)["settings"].(map[string]interface{})
	assert.Equal(t, float64(composition.MaxTempo), settings["tempo"])
	assert.Equal(t, float64(2), settings["capo"])
	assert.Equal(t, "G Major", settings["key"])
	assert.Equal(t, "4/4", settings["timeSignature"])

	// 生成 → 播放 → 暂停 → 停止
	rec = env.doJSON(http.MethodPost, base+"/playback/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "generating", decodeBody(t, rec)["state"])

	env.clock.Advance(2 * time.Second)
	rec = env.do(http.MethodGet, base, nil, "")
	view = decodeView(t, decodeBody(t, rec))
	assert.True(t, view.Playback.HasGenerated)

	rec = env.doJSON(http.MethodPost, base+"/playback/toggle", nil)
	assert.Equal(t, "playing", decodeBody(t, rec)["state"])
	rec = env.doJSON(http.MethodPost, base+"/playback/toggle", nil)
	assert.Equal(t, "paused", decodeBody(t, rec)["state"])

	rec = env.doJSON(http.MethodPost, base+"/playback/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["isPlaying"])
	assert.Equal(t, float64(0), body["currentTime"])

	rec = env.doJSON(http.MethodPost, base+"/notes/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeView(t, decodeBody(t, rec))
	assert.Empty(t, view.Notes)
	assert.Equal(t, []string{"G"}, view.Chords)
}

func TestStudioExportMIDI(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice", "alice@example.com", "secret1")
	env.login("alice", "secret1")
	id := openStudio(t, env)

	rec := env.doJSON(http.MethodPost, "/api/studio/"+id+"/notes/parse", map[string]string{"text": "C4 E4 G4-half"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/studio/"+id+"/export.mid", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/midi", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="musicflow-`+id+`.mid"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "MThd"))
}

func TestStudioOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice", "alice@example.com", "secret1")
	env.seedUser("bob", "bob@example.com", "secret2")
	env.login("alice", "secret1")
	id := openStudio(t, env)

	bob := env.newBrowser()
	bob.login("bob", "secret2")
	rec := bob.do(http.MethodGet, "/api/studio/"+id, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = bob.doJSON(http.MethodDelete, "/api/studio/"+id, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.doJSON(http.MethodDelete, "/api/studio/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/api/studio/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, env.studios.Count())
}

func TestStudioLimitPerUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice", "alice@example.com", "secret1")
	env.login("alice", "secret1")

	for i := 0; i < studio.DefaultMaxPerUser; i++ {
		openStudio(t, env)
	}
	rec := env.doJSON(http.MethodPost, "/api/studio", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// wsReadUntil skips messages until one of type want arrives.
func wsReadUntil(t *testing.T, conn *websocket.Conn, want studio.MessageType) *studio.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg studio.WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == want {
			return &msg
		}
	}
}

func TestStudioWebSocket(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice", "alice@example.com", "secret1")
	env.login("alice", "secret1")
	id := openStudio(t, env)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/studio/" + id

	// 未登录
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Cookie", sessionCookie+"="+env.jar[sessionCookie].Value)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return env.hub.ClientCount(id) == 1 }, time.Second, 10*time.Millisecond)

	rec := env.doJSON(http.MethodPost, "/api/studio/"+id+"/notes/parse", map[string]string{"text": "A3 C4"})
	require.Equal(t, http.StatusOK, rec.Code)

	msg := wsReadUntil(t, conn, studio.MsgTypeRender)
	assert.Equal(t, id, msg.StudioID)
	var view studio.View
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Len(t, view.Notes, 2)

	require.NoError(t, conn.WriteJSON(studio.WSMessage{Type: studio.MsgTypePing}))
	wsReadUntil(t, conn, studio.MsgTypePong)

	// 其他用户不能订阅
	bob := env.newBrowser()
	env.seedUser("bob", "bob@example.com", "secret2")
	bob.login("bob", "secret2")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token="+bob.jar[sessionCookie].Value, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	rec = env.doJSON(http.MethodDelete, "/api/studio/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wsReadUntil(t, conn, studio.MsgTypeClosed)
}
