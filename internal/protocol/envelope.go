package protocol

import (
	"encoding/json"
	"time"
)

// Request type values carried in the "type" field of client envelopes.
const (
	TypeRegister    = "register"
	TypeLogin       = "login"
	TypeLogout      = "logout"
	TypePrivateChat = "private_chat"
	TypeGroupChat   = "group_chat"
	TypeCreateGroup = "create_group"
	TypeJoinGroup   = "join_group"
	TypeListGroups  = "list_groups"
)

// Pseudo request types used only for responses that are not tied to a
// recognized request.
const (
	TypeAuth    = "auth"
	TypeUnknown = "unknown"
	TypeParse   = "parse"
	TypeServer  = "server"
)

// Notification type values for unsolicited server pushes.
const (
	TypePrivateMessage    = "private_message"
	TypeGroupMessage      = "group_message"
	TypeUpdateOnlineUsers = "update_online_users"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// responseSuffix is appended to the request type to form the response type.
const responseSuffix = "_response"

// Response is the server's reply to a single request.
type Response struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Data      any     `json:"data,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// OK reports whether the response carries a success status.
func (r Response) OK() bool {
	return r.Status == StatusSuccess
}

// Notification is a server-initiated push.
type Notification struct {
	Type      string  `json:"type"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// LoginResult is the data attached to a successful login response.
type LoginResult struct {
	OnlineUsers     []string `json:"online_users"`
	RegisteredUsers []string `json:"registered_users"`
}

// GroupChatResult is the data attached to a successful group_chat response.
type GroupChatResult struct {
	SentTo int `json:"sent_to"`
}

// ListGroupsResult is the data attached to a list_groups response.
type ListGroupsResult struct {
	MyGroups  []string `json:"my_groups"`
	AllGroups []string `json:"all_groups"`
}

// PrivateMessage is the data of a private_message notification.
type PrivateMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// GroupMessage is the data of a group_message notification.
type GroupMessage struct {
	From    string `json:"from"`
	Group   string `json:"group"`
	Message string `json:"message"`
}

// OnlineUsersUpdate is the data of an update_online_users notification.
type OnlineUsersUpdate struct {
	OnlineUsers     []string `json:"online_users"`
	RegisteredUsers []string `json:"registered_users"`
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Timestamp converts t to fractional epoch seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Success builds a success response for requestType.
func Success(now time.Time, requestType, message string, data any) Response {
	return Response{
		Type:      requestType + responseSuffix,
		Status:    StatusSuccess,
		Message:   message,
		Data:      data,
		Timestamp: Timestamp(now),
	}
}

// Failure builds an error response for requestType.
func Failure(now time.Time, requestType, message string) Response {
	return Response{
		Type:      requestType + responseSuffix,
		Status:    StatusError,
		Message:   message,
		Timestamp: Timestamp(now),
	}
}

// NewNotification builds a notification envelope.
func NewNotification(now time.Time, notificationType string, data any) Notification {
	return Notification{
		Type:      notificationType,
		Data:      data,
		Timestamp: Timestamp(now),
	}
}

// Marshal encodes an envelope as a JSON payload. Envelopes are built from
// plain structs, so encoding only fails on programmer error.
func Marshal(envelope any) ([]byte, error) {
	return json.Marshal(envelope)
}

// NonNil returns s, or an empty slice when s is nil, so lists always encode
// as JSON arrays.
func NonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
