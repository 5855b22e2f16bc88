package integration

import (
	"testing"
	"time"

	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/Tyrowin/chatrooms/test/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

const silence = 300 * time.Millisecond

// expectChatMessage skips room messages until one with text arrives.
func expectChatMessage(t *testing.T, conn *websocket.Conn, text string) protocol.ChatMessage {
	t.Helper()
	for {
		var msg protocol.ChatMessage
		testhelpers.ExpectEvent(t, conn, protocol.EventNewMessage, &msg)
		if msg.Message == text {
			return msg
		}
	}
}

func TestPairing_MatchExchangeAndLeave(t *testing.T) {
	s := startChatServer(t)
	ann := testhelpers.MustConnect(t, s.wsURL())
	ben := testhelpers.MustConnect(t, s.wsURL())

	testhelpers.SendEvent(t, ann, protocol.EventReadyForChat, protocol.ReadyForChat{User: &protocol.UserInfo{Name: "Ann"}})
	testhelpers.SendEvent(t, ben, protocol.EventReadyForChat, protocol.ReadyForChat{User: &protocol.UserInfo{Name: "Ben"}})

	var annMatch, benMatch protocol.MatchFound
	testhelpers.ExpectEvent(t, ann, protocol.EventMatchFound, &annMatch)
	testhelpers.ExpectEvent(t, ben, protocol.EventMatchFound, &benMatch)
	require.Equal(t, annMatch.RoomID, benMatch.RoomID)
	require.Equal(t, "Ben", annMatch.Partner.Name)
	require.Equal(t, "Ann", benMatch.Partner.Name)

	testhelpers.SendEvent(t, ann, protocol.EventMessage, protocol.PairMessage{RoomID: annMatch.RoomID, Text: "hi"})
	var got protocol.PairText
	testhelpers.ExpectEvent(t, ben, protocol.EventMessage, &got)
	require.Equal(t, "hi", got.Text)
	testhelpers.ExpectEvent(t, ann, protocol.EventMessage, &got)
	require.Equal(t, "hi", got.Text)

	testhelpers.SendEvent(t, ann, protocol.EventLeaveRoom, protocol.LeaveRoom{RoomID: annMatch.RoomID})
	testhelpers.ExpectEvent(t, ben, protocol.EventPartnerLeft, nil)
	testhelpers.ExpectNoEvent(t, ann, protocol.EventPartnerLeft, silence)
}

func TestPairing_DisconnectNotifiesPartner(t *testing.T) {
	s := startChatServer(t)
	ann := testhelpers.MustConnect(t, s.wsURL())
	ben := testhelpers.MustConnect(t, s.wsURL())

	testhelpers.SendEvent(t, ann, protocol.EventReadyForChat, protocol.ReadyForChat{User: &protocol.UserInfo{Name: "Ann"}})
	testhelpers.SendEvent(t, ben, protocol.EventReadyForChat, protocol.ReadyForChat{User: &protocol.UserInfo{Name: "Ben"}})
	testhelpers.ExpectEvent(t, ann, protocol.EventMatchFound, nil)
	testhelpers.ExpectEvent(t, ben, protocol.EventMatchFound, nil)

	require.NoError(t, testhelpers.CloseWebSocket(ann))
	testhelpers.ExpectEvent(t, ben, protocol.EventPartnerLeft, nil)
}

func TestTopic_PresenceRosterAndRelay(t *testing.T) {
	s := startChatServer(t)
	names := []string{"Ann", "Ben", "Cat"}
	conns := make([]*websocket.Conn, len(names))

	for i, name := range names {
		conns[i] = testhelpers.MustConnect(t, s.wsURL())
		testhelpers.SendEvent(t, conns[i], protocol.EventJoinGroup, protocol.JoinGroup{
			Topic: "Coding",
			User:  protocol.UserInfo{ID: name, Name: name},
		})
		var joined protocol.Presence
		testhelpers.ExpectEvent(t, conns[i], protocol.EventUserJoined, &joined)
		require.Equal(t, name, joined.User.Name)
	}

	var roster []protocol.RosterEntry
	testhelpers.ExpectEvent(t, conns[0], protocol.EventOnlineUsers, &roster)
	for len(roster) < len(names) {
		testhelpers.ExpectEvent(t, conns[0], protocol.EventOnlineUsers, &roster)
	}
	require.Equal(t, names, lo.Map(roster, func(e protocol.RosterEntry, _ int) string { return e.Name }))

	testhelpers.SendEvent(t, conns[0], protocol.EventGroupMessage, protocol.GroupMessage{Topic: "coding", Text: "hello all"})
	for _, conn := range conns {
		var msg protocol.GroupText
		testhelpers.ExpectEvent(t, conn, protocol.EventGroupMessage, &msg)
		require.Equal(t, "hello all", msg.Text)
		require.Equal(t, "Ann", msg.Sender)
		require.NotEmpty(t, msg.MessageID)
	}

	testhelpers.SendEvent(t, conns[1], protocol.EventTyping, protocol.TopicUser{Topic: "coding", User: protocol.UserInfo{Name: "Ben"}})
	var typing protocol.TypingNotice
	testhelpers.ExpectEvent(t, conns[2], protocol.EventUserTyping, &typing)
	require.Equal(t, "Ben", typing.User.Name)

	testhelpers.SendEvent(t, conns[2], protocol.EventLeaveGroup, protocol.TopicUser{Topic: "coding"})
	var left protocol.Presence
	testhelpers.ExpectEvent(t, conns[0], protocol.EventUserLeft, &left)
	require.Equal(t, "Cat", left.User.Name)

	testhelpers.ExpectNoEvent(t, conns[1], protocol.EventUserTyping, silence)
}

func TestTopic_BlockedTopicIsIgnored(t *testing.T) {
	s := startChatServer(t)
	conn := testhelpers.MustConnect(t, s.wsURL())

	testhelpers.SendEvent(t, conn, protocol.EventJoinGroup, protocol.JoinGroup{
		Topic: "scam ideas",
		User:  protocol.UserInfo{Name: "Ann"},
	})

	testhelpers.ExpectNoEvent(t, conn, protocol.EventUserJoined, silence)
}

func TestPersistentRoom_Lifecycle(t *testing.T) {
	s := startChatServer(t)
	const roomID = "abc123-Weekly-Standup"
	admin := testhelpers.MustConnect(t, s.wsURL())
	guest := testhelpers.MustConnect(t, s.wsURL())

	testhelpers.SendEvent(t, admin, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: "u-ann", UserName: "Ann", IsAdmin: true})
	var history []protocol.ChatMessage
	testhelpers.ExpectEvent(t, admin, protocol.EventChatHistory, &history)
	require.Len(t, history, 1)
	require.Equal(t, protocol.KindSystem, history[0].Type)

	testhelpers.SendEvent(t, guest, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: "u-ben", UserName: "Ben"})
	expectChatMessage(t, admin, "Ben joined the chat")
	var roster protocol.RoomRoster
	testhelpers.ExpectEvent(t, admin, protocol.EventOnlineUsers, &roster)
	require.Equal(t, 2, roster.TotalOnline)
	testhelpers.ExpectEvent(t, guest, protocol.EventChatHistory, &history)
	require.Len(t, history, 2)

	testhelpers.SendEvent(t, guest, protocol.EventSendMessage, protocol.SendMessage{RoomID: roomID, Message: "morning"})
	msg := expectChatMessage(t, admin, "morning")
	require.Equal(t, "Ben", msg.Sender)
	require.Equal(t, "u-ben", msg.UserID)
	require.Equal(t, protocol.KindUser, msg.Type)

	testhelpers.SendEvent(t, guest, protocol.EventRemoveUser, protocol.RemoveUser{RoomID: roomID, TargetUserID: "u-ann", AdminUserID: "u-ben"})
	testhelpers.SendEvent(t, admin, protocol.EventRemoveUser, protocol.RemoveUser{RoomID: roomID, TargetUserID: "u-ben", AdminUserID: "u-ann"})
	testhelpers.ExpectEvent(t, guest, protocol.EventRemovedFromRoom, nil)
	expectChatMessage(t, admin, "Ben was removed from the chat")

	testhelpers.SendEvent(t, admin, protocol.EventEndMeeting, protocol.EndMeeting{RoomID: roomID, AdminUserID: "u-ann"})
	var ended protocol.RoomRef
	testhelpers.ExpectEvent(t, admin, protocol.EventMeetingEnded, &ended)
	require.Equal(t, roomID, ended.RoomID)

	testhelpers.ExpectNoEvent(t, guest, protocol.EventMeetingEnded, silence)
}

func TestPersistentRoom_RejoinReplaysHistory(t *testing.T) {
	s := startChatServer(t)
	const roomID = "abc123-Book-Club"
	host := testhelpers.MustConnect(t, s.wsURL())
	testhelpers.SendEvent(t, host, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: "u-host", UserName: "Host", IsAdmin: true})
	testhelpers.ExpectEvent(t, host, protocol.EventChatHistory, nil)

	first := testhelpers.MustConnect(t, s.wsURL())
	testhelpers.SendEvent(t, first, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: "u-ann", UserName: "Ann"})
	testhelpers.ExpectEvent(t, first, protocol.EventChatHistory, nil)
	testhelpers.SendEvent(t, first, protocol.EventSendMessage, protocol.SendMessage{RoomID: roomID, Message: "before the drop"})
	expectChatMessage(t, host, "before the drop")

	require.NoError(t, testhelpers.CloseWebSocket(first))
	expectChatMessage(t, host, "Ann left the chat")

	second := testhelpers.MustConnect(t, s.wsURL())
	testhelpers.SendEvent(t, second, protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserID: "u-ann", UserName: "Ann"})
	var history []protocol.ChatMessage
	testhelpers.ExpectEvent(t, second, protocol.EventChatHistory, &history)
	require.Contains(t, lo.Map(history, func(m protocol.ChatMessage, _ int) string { return m.Message }), "before the drop")
}
