package discord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/dwizi/media-relay/internal/gateway"
	"github.com/dwizi/media-relay/internal/media"
	"github.com/dwizi/media-relay/internal/replies"
)

type fakeCommandGateway struct {
	mu        sync.Mutex
	calls     []gateway.MessageInput
	reactions []replies.Reaction
	reply     string
}

func (f *fakeCommandGateway) HandleMessage(ctx context.Context, input gateway.MessageInput) (gateway.MessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if f.reply == "" {
		return gateway.MessageOutput{}, nil
	}
	return gateway.MessageOutput{Handled: true, Reply: f.reply}, nil
}

func (f *fakeCommandGateway) HandleReaction(ctx context.Context, reaction replies.Reaction) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction)
	return true
}

type restCall struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

type restAPI struct {
	mu    sync.Mutex
	calls []restCall
}

func (r *restAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		call := restCall{Method: req.Method, Path: req.URL.Path, Auth: req.Header.Get("Authorization"), Body: map[string]any{}}
		if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
			if err := req.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			for key, files := range req.MultipartForm.File {
				call.Body[key] = files[0].Filename
			}
			r.record(call)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":         "m-upload",
				"channel_id": strings.Split(req.URL.Path, "/")[2],
				"attachments": []map[string]any{
					{"id": "a1", "filename": "output.mp4", "size": 2048, "url": "https://cdn.example/a1/output.mp4"},
				},
			})
			return
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&call.Body)
		}
		r.record(call)
		switch {
		case req.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case req.URL.Path == "/oauth2/applications/@me":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "app-1"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "m-sent"})
		}
	}
}

func (r *restAPI) record(call restCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *restAPI) snapshot() []restCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]restCall(nil), r.calls...)
}

func newTestConnector(t *testing.T, api *restAPI, commands CommandGateway, opts ...Option) *Connector {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("bot-token", server.URL, "", commands, logger, opts...)
}

func TestHandleMessageCreateForwardsReplyWithQuote(t *testing.T) {
	api := &restAPI{}
	commands := &fakeCommandGateway{reply: "Reply to a photo, video or GIF with /sticker."}
	connector := newTestConnector(t, api, commands)

	err := connector.handleMessageCreate(context.Background(), discordMessageCreate{
		ID:        "m-2",
		ChannelID: "c-1",
		GuildID:   "g-1",
		Content:   "/sticker",
		Author:    discordAuthor{ID: "u-1", Username: "ana"},
		MessageReference: &discordMessageReference{
			MessageID: "m-1",
			ChannelID: "c-1",
		},
		ReferencedMessage: &discordMessageCreate{
			ID: "m-1",
			Attachments: []discordAttachment{
				{ID: "a9", Filename: "cat.gif", ContentType: "image/gif", Size: 512, URL: "https://cdn.example/cat.gif", Width: 320, Height: 240},
			},
		},
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	want := gateway.MessageInput{
		Connector:       "discord",
		ExternalID:      "c-1",
		DisplayName:     "g-1",
		FromUserID:      "u-1",
		MessageID:       "m-2",
		Text:            "/sticker",
		QuotedMessageID: "m-1",
		Quote: &replies.Attachment{
			FileID:       "a9",
			FileUniqueID: "a9",
			URL:          "https://cdn.example/cat.gif",
			FileName:     "cat.gif",
			MimeType:     "image/gif",
			Width:        320,
			Height:       240,
			SizeBytes:    512,
		},
	}
	if diff := cmp.Diff([]gateway.MessageInput{want}, commands.calls); diff != "" {
		t.Fatalf("unexpected input (-want +got):\n%s", diff)
	}
	calls := api.snapshot()
	if len(calls) != 1 || calls[0].Path != "/channels/c-1/messages" {
		t.Fatalf("expected one reply, got %+v", calls)
	}
	if calls[0].Auth != "Bot bot-token" {
		t.Fatalf("unexpected auth header %q", calls[0].Auth)
	}
	reference, _ := calls[0].Body["message_reference"].(map[string]any)
	if reference["message_id"] != "m-2" {
		t.Fatalf("expected reply to reference the command, got %+v", calls[0].Body)
	}
}

func TestHandleMessageCreateIgnoresBotMessages(t *testing.T) {
	api := &restAPI{}
	commands := &fakeCommandGateway{reply: "x"}
	connector := newTestConnector(t, api, commands)

	err := connector.handleMessageCreate(context.Background(), discordMessageCreate{
		ChannelID: "c-1",
		Content:   "/video cats",
		Author:    discordAuthor{ID: "bot", Bot: true},
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(commands.calls) != 0 || len(api.snapshot()) != 0 {
		t.Fatal("bot messages must be ignored")
	}
}

func TestHandleReactionAddSkipsCustomEmoji(t *testing.T) {
	commands := &fakeCommandGateway{}
	connector := newTestConnector(t, &restAPI{}, commands)

	connector.handleReactionAdd(context.Background(), discordReactionAdd{
		UserID: "u-1", ChannelID: "c-1", MessageID: "m-5",
		Emoji: discordEmojiInfo{ID: "123", Name: "partyblob"},
	})
	connector.handleReactionAdd(context.Background(), discordReactionAdd{
		UserID: "u-1", ChannelID: "c-1", MessageID: "m-5",
		Emoji: discordEmojiInfo{Name: "👍"},
	})
	want := []replies.Reaction{{Connector: "discord", ThreadID: "c-1", MessageID: "m-5", UserID: "u-1", Emoji: "👍"}}
	if diff := cmp.Diff(want, commands.reactions); diff != "" {
		t.Fatalf("unexpected reactions (-want +got):\n%s", diff)
	}
}

func writeUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.mp4")
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func TestUploadIntoChannelIsReusedAsDelivery(t *testing.T) {
	api := &restAPI{}
	connector := newTestConnector(t, api, &fakeCommandGateway{})

	url, err := connector.UploadAttachment(context.Background(), writeUpload(t), "c-1", media.KindVideo)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://cdn.example/a1/output.mp4" {
		t.Fatalf("unexpected attachment url %q", url)
	}
	id, err := connector.SendMedia(context.Background(), "c-1", url, media.KindVideo, "cat dance\nby ana")
	if err != nil {
		t.Fatalf("send media: %v", err)
	}
	if id != "m-upload" {
		t.Fatalf("expected upload message to be the delivery, got %q", id)
	}
	calls := api.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected upload and caption edit, got %+v", calls)
	}
	if calls[0].Body["files[0]"] != "output.mp4" {
		t.Fatalf("unexpected upload %+v", calls[0])
	}
	if calls[1].Method != http.MethodPatch || calls[1].Path != "/channels/c-1/messages/m-upload" {
		t.Fatalf("unexpected caption call %+v", calls[1])
	}
}

func TestSendMediaPostsURLWithCaption(t *testing.T) {
	api := &restAPI{}
	connector := newTestConnector(t, api, &fakeCommandGateway{}, WithStagingChannel("staging"))

	url, err := connector.UploadAttachment(context.Background(), writeUpload(t), "c-1", media.KindVideo)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := connector.SendMedia(context.Background(), "c-1", url, media.KindVideo, "cat dance"); err != nil {
		t.Fatalf("send media: %v", err)
	}
	calls := api.snapshot()
	if calls[0].Path != "/channels/staging/messages" {
		t.Fatalf("expected staging upload, got %+v", calls[0])
	}
	if calls[1].Path != "/channels/c-1/messages" || calls[1].Body["content"] != "cat dance\n"+url {
		t.Fatalf("unexpected delivery %+v", calls[1])
	}
}

func TestDeleteMessage(t *testing.T) {
	api := &restAPI{}
	connector := newTestConnector(t, api, &fakeCommandGateway{})
	if err := connector.DeleteMessage(context.Background(), "c-1", "m-9"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	calls := api.snapshot()
	if calls[0].Method != http.MethodDelete || calls[0].Path != "/channels/c-1/messages/m-9" {
		t.Fatalf("unexpected call %+v", calls[0])
	}
}

func TestSyncCommandsUsesGuildScope(t *testing.T) {
	api := &restAPI{}
	connector := newTestConnector(t, api, &fakeCommandGateway{}, WithCommandGuildIDs([]string{"g-1", " g-1 ", ""}))
	if err := connector.syncCommands(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	calls := api.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected lookup and one guild upsert, got %+v", calls)
	}
	if calls[1].Method != http.MethodPut || calls[1].Path != "/applications/app-1/guilds/g-1/commands" {
		t.Fatalf("unexpected upsert %+v", calls[1])
	}
}

func TestInteractionToCommandText(t *testing.T) {
	got := interactionToCommandText(discordInteractionCreate{
		Data: discordInteractionData{
			Name:    "meme",
			Options: []discordInteractionOption{{Name: "query", Value: "cat&&3"}},
		},
	})
	if got != "/meme cat&&3" {
		t.Fatalf("unexpected command text %q", got)
	}
}

func TestInteractionIsDeferredThenEdited(t *testing.T) {
	api := &restAPI{}
	commands := &fakeCommandGateway{reply: "Pick one by replying with its number."}
	connector := newTestConnector(t, api, commands)

	err := connector.handleInteractionCreate(context.Background(), discordInteractionCreate{
		ID:            "i-1",
		ApplicationID: "app-9",
		Type:          interactionTypeApplicationCommand,
		Token:         "tok",
		ChannelID:     "c-1",
		Data: discordInteractionData{
			Name:    "video",
			Options: []discordInteractionOption{{Name: "query", Value: "cats"}},
		},
		Member: discordMember{User: discordAuthor{ID: "u-1"}},
	})
	if err != nil {
		t.Fatalf("handle interaction: %v", err)
	}

	want := []restCall{
		{Method: http.MethodPost, Path: "/interactions/i-1/tok/callback", Auth: "Bot bot-token", Body: map[string]any{"type": float64(5)}},
		{Method: http.MethodPatch, Path: "/webhooks/app-9/tok/messages/@original", Auth: "Bot bot-token", Body: map[string]any{"content": "Pick one by replying with its number."}},
	}
	if diff := cmp.Diff(want, api.snapshot()); diff != "" {
		t.Fatalf("unexpected REST calls (-want +got):\n%s", diff)
	}
	if len(commands.calls) != 1 || commands.calls[0].Text != "/video cats" || commands.calls[0].FromUserID != "u-1" {
		t.Fatalf("unexpected gateway calls %+v", commands.calls)
	}
}

func TestRunSessionDispatchesGatewayEvents(t *testing.T) {
	commands := &fakeCommandGateway{}
	upgrader := websocket.Upgrader{}
	identified := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"op": 10, "d": map[string]any{"heartbeat_interval": 60000}})
		var identify map[string]any
		if err := conn.ReadJSON(&identify); err != nil {
			t.Errorf("read identify: %v", err)
			return
		}
		identified <- identify
		_ = conn.WriteJSON(map[string]any{"op": 0, "s": 1, "t": "READY", "d": map[string]any{"user": map[string]any{"id": "bot-1"}}})
		_ = conn.WriteJSON(map[string]any{"op": 0, "s": 2, "t": "MESSAGE_CREATE", "d": map[string]any{
			"id": "m-1", "channel_id": "c-1", "content": "/video cats", "author": map[string]any{"id": "u-1"},
		}})
		_ = conn.WriteJSON(map[string]any{"op": 0, "s": 3, "t": "MESSAGE_REACTION_ADD", "d": map[string]any{
			"user_id": "u-1", "channel_id": "c-1", "message_id": "m-7", "emoji": map[string]any{"name": "❤"},
		}})
		_ = conn.WriteJSON(map[string]any{"op": 7})
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	connector := New("bot-token", server.URL, "ws"+strings.TrimPrefix(server.URL, "http"), commands, logger)
	err := connector.runSession(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reconnect") {
		t.Fatalf("expected reconnect request, got %v", err)
	}
	connector.inflight.Wait()

	identify := <-identified
	if identify["op"] != float64(2) {
		t.Fatalf("expected identify op, got %+v", identify)
	}
	if connector.botID() != "bot-1" {
		t.Fatalf("expected bot id from READY, got %q", connector.botID())
	}
	if len(commands.calls) != 1 || commands.calls[0].Text != "/video cats" {
		t.Fatalf("unexpected gateway calls %+v", commands.calls)
	}
	if len(commands.reactions) != 1 || commands.reactions[0].MessageID != "m-7" {
		t.Fatalf("unexpected reactions %+v", commands.reactions)
	}
}
