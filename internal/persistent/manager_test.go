package persistent

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Tyrowin/chatrooms/internal/broadcast"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/mocks"
	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/Tyrowin/chatrooms/internal/session"
	"github.com/Tyrowin/chatrooms/test/testhelpers"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const roomID = "k3x9qa-standup"

type fixture struct {
	m         *Manager
	sessions  *session.Registry
	transport *testhelpers.RecordingTransport
	store     history.Store
}

func newFixture(t *testing.T, store history.Store, connIDs ...string) fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	transport := testhelpers.NewRecordingTransport()
	sessions := session.NewRegistry()
	for _, id := range connIDs {
		sessions.Connect(id)
	}
	if store == nil {
		store = history.NewMemoryStore()
	}
	return fixture{
		m:         NewManager(sessions, broadcast.NewRouter(transport, log), store, log),
		sessions:  sessions,
		transport: transport,
		store:     store,
	}
}

func messages(t *testing.T, f fixture) []string {
	t.Helper()
	msgs, err := f.m.History(context.Background(), roomID)
	require.NoError(t, err)
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Message)
	}
	return out
}

func TestManager_Scenario_LateJoinerGetsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")

	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.SendMessage(ctx, roomID, "hello", "Ann", "u1")
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)

	var replay []protocol.ChatMessage
	f.transport.Last(t, "B", protocol.EventChatHistory, &replay)
	require.Len(t, replay, 3)
	require.Equal(t, "Ann joined the chat", replay[0].Message)
	require.Equal(t, protocol.KindSystem, replay[0].Type)
	require.Equal(t, "hello", replay[1].Message)
	require.Equal(t, protocol.KindUser, replay[1].Type)
	require.Equal(t, "u1", replay[1].UserID)
	require.Equal(t, "Ben joined the chat", replay[2].Message)

	var roster protocol.RoomRoster
	f.transport.Last(t, "A", protocol.EventOnlineUsers, &roster)
	require.Equal(t, 2, roster.TotalOnline)
	require.Equal(t, []protocol.Member{
		{UserID: "u1", UserName: "Ann", IsAdmin: true},
		{UserID: "u2", UserName: "Ben", IsAdmin: false},
	}, roster.Users)

	var live protocol.ChatMessage
	f.transport.Last(t, "A", protocol.EventNewMessage, &live)
	require.Equal(t, "Ben joined the chat", live.Message)
}

func TestManager_Scenario_AdminRemovesUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)
	f.transport.Reset()

	f.m.RemoveUser(ctx, roomID, "u2", "u1")

	var ref protocol.RoomRef
	f.transport.Last(t, "B", protocol.EventRemovedFromRoom, &ref)
	require.Equal(t, roomID, ref.RoomID)
	require.Empty(t, f.transport.To("B", protocol.EventNewMessage), "removed member no longer receives room traffic")

	var note protocol.ChatMessage
	f.transport.Last(t, "A", protocol.EventNewMessage, &note)
	require.Equal(t, "Ben was removed from the chat", note.Message)

	var roster protocol.RoomRoster
	f.transport.Last(t, "A", protocol.EventOnlineUsers, &roster)
	require.Equal(t, 1, roster.TotalOnline)

	b, _ := f.sessions.Get("B")
	require.Empty(t, b.PersistentRoom())
}

func TestManager_NonAdminCannotModerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)
	f.transport.Reset()

	f.m.RemoveUser(ctx, roomID, "u1", "u2")
	f.m.EndMeeting(ctx, roomID, "u2")
	f.m.RemoveUser(ctx, roomID, "u2", "nobody")

	require.Empty(t, f.transport.All())
	require.Len(t, f.m.Members(roomID), 2)
}

func TestManager_RejoinRefreshesConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "A2", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)

	f.m.Join(ctx, "A2", roomID, "u1", "Ann", true)

	members := f.m.Members(roomID)
	require.Len(t, members, 2)
	require.Equal(t, "A2", members[0].ConnectionID)
	require.Equal(t, []string{"Ann joined the chat", "Ben joined the chat"}, messages(t, f), "rejoin adds no join message")

	var replay []protocol.ChatMessage
	f.transport.Last(t, "A2", protocol.EventChatHistory, &replay)
	require.Len(t, replay, 2)

	f.transport.Reset()
	f.m.Disconnect(ctx, "A")
	require.Len(t, f.m.Members(roomID), 2, "the stale connection no longer speaks for u1")
	require.Empty(t, f.transport.All())

	f.m.SendMessage(ctx, roomID, "still here", "Ann", "u1")
	require.Len(t, f.transport.To("A2", protocol.EventNewMessage), 1)
	require.Empty(t, f.transport.To("A", protocol.EventNewMessage))
}

func TestManager_LeaveAndDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)

	f.m.Leave(ctx, "B", roomID, "u2")
	f.transport.Reset()
	f.m.Leave(ctx, "B", roomID, "u2")

	require.Empty(t, f.transport.All(), "leaving twice has no observable effect")
	require.Len(t, f.m.Members(roomID), 1)
	require.Equal(t, "Ben left the chat", messages(t, f)[2])

	f.m.Disconnect(ctx, "A")
	require.False(t, f.m.Exists(roomID), "the last member leaving destroys the room")
	require.Empty(t, messages(t, f), "history goes with the room")
}

func TestManager_LeaveByConnectionWhenUserIDMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)

	f.m.Leave(ctx, "B", roomID, "")

	members := f.m.Members(roomID)
	require.Len(t, members, 1)
	require.Equal(t, "u1", members[0].UserID)
}

func TestManager_EndMeeting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)
	f.transport.Reset()

	f.m.EndMeeting(ctx, roomID, "u1")

	require.Len(t, f.transport.To("A", protocol.EventMeetingEnded), 1)
	require.Len(t, f.transport.To("B", protocol.EventMeetingEnded), 1)
	require.False(t, f.m.Exists(roomID))
	require.Zero(t, f.m.Rooms())
	for _, id := range []string{"A", "B"} {
		s, _ := f.sessions.Get(id)
		require.Empty(t, s.PersistentRoom())
	}

	f.transport.Reset()
	f.m.SendMessage(ctx, roomID, "anyone?", "Ann", "u1")
	require.Empty(t, f.transport.All())
}

func TestManager_JoiningAnotherRoomLeavesTheFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.Join(ctx, "B", roomID, "u2", "Ben", false)

	f.m.Join(ctx, "B", "other-room", "u2", "Ben", false)

	require.Len(t, f.m.Members(roomID), 1)
	require.Len(t, f.m.Members("other-room"), 1)
}

func TestManager_JoinUnderNewUserIDReplacesTheMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "A", "B")
	f.m.Join(ctx, "B", roomID, "u9", "Bob", true)
	f.m.Join(ctx, "A", roomID, "u1", "Ann", false)

	f.m.Join(ctx, "A", roomID, "u2", "Ann2", false)

	members := f.m.Members(roomID)
	require.Len(t, members, 2)
	require.Equal(t, []string{"u9", "u2"}, []string{members[0].UserID, members[1].UserID})
	require.Contains(t, messages(t, f), "Ann left the chat")

	f.m.Disconnect(ctx, "A")
	f.m.Disconnect(ctx, "B")
	require.False(t, f.m.Exists(roomID), "no member outlives its connection")
}

func TestManager_JoinWithoutUserIsIgnored(t *testing.T) {
	f := newFixture(t, nil, "A")

	f.m.Join(context.Background(), "A", roomID, "", "Ann", false)

	require.False(t, f.m.Exists(roomID))
	require.Empty(t, f.transport.All())
}

func TestManager_FailedAppendIsNotBroadcast(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Append(gomock.Any(), roomID, gomock.Any()).Return(errors.New("disk full")).AnyTimes()
	store.EXPECT().List(gomock.Any(), roomID).Return([]protocol.ChatMessage{}, nil)

	f := newFixture(t, store, "A")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)
	f.m.SendMessage(ctx, roomID, "hello", "Ann", "u1")

	require.Empty(t, f.transport.To("A", protocol.EventNewMessage))
	require.Len(t, f.transport.To("A", protocol.EventChatHistory), 1)
}

func TestManager_HistoryErrorStillRepliesWithEmptyHistory(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Append(gomock.Any(), roomID, gomock.Any()).Return(nil)
	store.EXPECT().List(gomock.Any(), roomID).Return(nil, errors.New("boom"))

	f := newFixture(t, store, "A")
	f.m.Join(ctx, "A", roomID, "u1", "Ann", true)

	var replay []protocol.ChatMessage
	f.transport.Last(t, "A", protocol.EventChatHistory, &replay)
	require.Empty(t, replay)
}
