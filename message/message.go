// Package message defines the closed catalogue of handler tags exchanged
// between mini-irc peers, one constructor per frame kind, and the helpers
// that interpret the header and payload conventions of each tag.
//
// Only tags listed here are produced by compliant peers. A receiver that sees
// any other tag replies with NotFound and keeps the connection open.
package message

import (
	"strings"

	"mini-irc/protocol"
)

// Client-originated tags.
const (
	TagEcho        = "echo"
	TagTerminate   = "terminate"
	TagIdentify    = "identify"
	TagCreateRoom  = "create_room"
	TagListRooms   = "list_rooms"
	TagJoinRoom    = "join_room"
	TagLeaveRoom   = "leave_room"
	TagRoomMembers = "room_members"
	TagMsgRoom     = "msg_room"
	TagMsgClient   = "msg_client"
)

// Server-originated tags.
const (
	TagNotFound    = "not_found"
	TagIdentified  = "identified"
	TagIDTaken     = "id_taken"
	TagReqID       = "req_id"
	TagRoomCreated = "room_created"
	TagRoomList    = "room_list"
	TagRoomJoined  = "room_joined"
	TagRoomLeft    = "room_left"
	TagMemberList  = "member_list"
	TagRoomMsgd    = "room_msgd"
	TagNoRoom      = "no_room"
	TagBroadcast   = "broadcast"
	TagClientMsgd  = "client_msgd"
	TagNoClient    = "no_client"
	TagClientMsg   = "client_msg"
)

// HeaderDelim joins room and sender in a broadcast header. Names containing
// it are rejected at identification time.
const HeaderDelim = ":"

// NotFoundPayload is the fixed payload of a not_found reply.
const NotFoundPayload = "Handler Not Found"

// Echo asks the server to reflect text back unchanged.
func Echo(text string) *protocol.Frame {
	return &protocol.Frame{Handler: TagEcho, Payload: []byte(text)}
}

// Terminate asks the server to close the caller's stream and release its name.
func Terminate() *protocol.Frame {
	return &protocol.Frame{Handler: TagTerminate}
}

// Identify binds a unique client name to the caller's connection.
func Identify(name string) *protocol.Frame {
	return &protocol.Frame{Handler: TagIdentify, Payload: []byte(name)}
}

func Identified() *protocol.Frame {
	return &protocol.Frame{Handler: TagIdentified}
}

func IDTaken() *protocol.Frame {
	return &protocol.Frame{Handler: TagIDTaken}
}

// ReqID is the gate reply sent when an unidentified connection invokes a
// verb that requires identification.
func ReqID() *protocol.Frame {
	return &protocol.Frame{Handler: TagReqID}
}

// NotFound is the reply to a frame whose handler tag is not in the catalogue.
func NotFound() *protocol.Frame {
	return &protocol.Frame{Handler: TagNotFound, Payload: []byte(NotFoundPayload)}
}

func CreateRoom(room string) *protocol.Frame {
	return &protocol.Frame{Handler: TagCreateRoom, Payload: []byte(room)}
}

func RoomCreated() *protocol.Frame {
	return &protocol.Frame{Handler: TagRoomCreated}
}

func ListRooms() *protocol.Frame {
	return &protocol.Frame{Handler: TagListRooms}
}

// RoomList carries room names joined by newlines, in creation order.
func RoomList(rooms []string) *protocol.Frame {
	return &protocol.Frame{Handler: TagRoomList, Payload: JoinNames(rooms)}
}

func JoinRoom(room string) *protocol.Frame {
	return &protocol.Frame{Handler: TagJoinRoom, Payload: []byte(room)}
}

func RoomJoined() *protocol.Frame {
	return &protocol.Frame{Handler: TagRoomJoined}
}

func LeaveRoom(room string) *protocol.Frame {
	return &protocol.Frame{Handler: TagLeaveRoom, Payload: []byte(room)}
}

func RoomLeft() *protocol.Frame {
	return &protocol.Frame{Handler: TagRoomLeft}
}

func RoomMembers(room string) *protocol.Frame {
	return &protocol.Frame{Handler: TagRoomMembers, Payload: []byte(room)}
}

// MemberList carries member names joined by newlines, in join order.
func MemberList(members []string) *protocol.Frame {
	return &protocol.Frame{Handler: TagMemberList, Payload: JoinNames(members)}
}

// MsgRoom requests a fan-out of body to every member of room.
func MsgRoom(room string, body []byte) *protocol.Frame {
	return &protocol.Frame{Handler: TagMsgRoom, Header: []byte(room), Payload: body}
}

func RoomMsgd() *protocol.Frame {
	return &protocol.Frame{Handler: TagRoomMsgd}
}

func NoRoom(room string) *protocol.Frame {
	return &protocol.Frame{Handler: TagNoRoom, Payload: []byte(room)}
}

// Broadcast is the server-originated fan-out frame. Its header identifies the
// room and the sending client, joined by HeaderDelim; the payload is the
// original message body, byte for byte.
func Broadcast(room, sender string, body []byte) *protocol.Frame {
	return &protocol.Frame{
		Handler: TagBroadcast,
		Header:  []byte(room + HeaderDelim + sender),
		Payload: body,
	}
}

// BroadcastSource splits a broadcast header into its room and sender parts.
func BroadcastSource(header []byte) (room, sender string) {
	room, sender, _ = strings.Cut(string(header), HeaderDelim)
	return room, sender
}

// MsgClient requests point-to-point delivery of body to the named client.
func MsgClient(target string, body []byte) *protocol.Frame {
	return &protocol.Frame{Handler: TagMsgClient, Header: []byte(target), Payload: body}
}

func ClientMsgd() *protocol.Frame {
	return &protocol.Frame{Handler: TagClientMsgd}
}

func NoClient(target string) *protocol.Frame {
	return &protocol.Frame{Handler: TagNoClient, Payload: []byte(target)}
}

// ClientMsg is the server-originated relay frame: header names the sender,
// payload is the relayed body, preserved verbatim.
func ClientMsg(sender string, body []byte) *protocol.Frame {
	return &protocol.Frame{Handler: TagClientMsg, Header: []byte(sender), Payload: body}
}

// JoinNames encodes a name list as a newline-joined payload.
// An empty list encodes as an empty payload, not a single empty name.
func JoinNames(names []string) []byte {
	if len(names) == 0 {
		return nil
	}
	return []byte(strings.Join(names, "\n"))
}

// SplitNames reverses JoinNames.
func SplitNames(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	return strings.Split(string(payload), "\n")
}
