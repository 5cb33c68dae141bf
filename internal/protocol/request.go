package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when a payload is not a JSON object envelope.
var ErrMalformed = errors.New("protocol: malformed envelope")

// FieldError reports a field in the request data that has the wrong JSON
// type. The request type is known, so the caller can answer with a typed
// response.
type FieldError struct {
	RequestType string
	Field       string
	Err         error
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("protocol: invalid %s data: %v", e.RequestType, e.Err)
	}
	return fmt.Sprintf("protocol: invalid %s field %q: %v", e.RequestType, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Request is one decoded client envelope. The concrete type is one of the
// request structs in this file; Unknown stands for any other type value.
type Request interface {
	RequestType() string
	sealed()
}

// Register asks to create a new account.
type Register struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login asks to bind the connection to an account.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Logout asks to unbind the connection from its account.
type Logout struct{}

// PrivateChat sends a direct message.
type PrivateChat struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// GroupChat sends a message to every other online member of a group.
type GroupChat struct {
	Group   string `json:"group"`
	Message string `json:"message"`
}

// CreateGroup creates a group with the sender as its only member.
type CreateGroup struct {
	GroupName string `json:"group_name"`
}

// JoinGroup adds the sender to an existing group.
type JoinGroup struct {
	GroupName string `json:"group_name"`
}

// ListGroups asks for the sender's groups and all group names.
type ListGroups struct{}

// Unknown is any request whose type is not recognized.
type Unknown struct {
	Type string
}

func (Register) RequestType() string    { return TypeRegister }
func (Login) RequestType() string       { return TypeLogin }
func (Logout) RequestType() string      { return TypeLogout }
func (PrivateChat) RequestType() string { return TypePrivateChat }
func (GroupChat) RequestType() string   { return TypeGroupChat }
func (CreateGroup) RequestType() string { return TypeCreateGroup }
func (JoinGroup) RequestType() string   { return TypeJoinGroup }
func (ListGroups) RequestType() string  { return TypeListGroups }
func (u Unknown) RequestType() string   { return u.Type }

func (Register) sealed()    {}
func (Login) sealed()       {}
func (Logout) sealed()      {}
func (PrivateChat) sealed() {}
func (GroupChat) sealed()   {}
func (CreateGroup) sealed() {}
func (JoinGroup) sealed()   {}
func (ListGroups) sealed()  {}
func (Unknown) sealed()     {}

// rawRequest is the outer client envelope.
type rawRequest struct {
	Type json.RawMessage `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeRequest parses a client payload into a typed Request.
//
// It returns ErrMalformed when the payload is not a JSON object or its type
// is not a string, and a *FieldError when the type is recognized but a data
// field has the wrong JSON type. String fields are trimmed of surrounding
// whitespace. Missing fields decode as empty strings and are left for the
// handlers to reject.
func DecodeRequest(payload []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var requestType string
	if len(raw.Type) > 0 && !isNull(raw.Type) {
		if err := json.Unmarshal(raw.Type, &requestType); err != nil {
			return nil, fmt.Errorf("%w: type must be a string", ErrMalformed)
		}
	}

	switch requestType {
	case TypeRegister:
		var r Register
		if err := decodeData(requestType, raw.Data, &r); err != nil {
			return nil, err
		}
		r.Username, r.Password = strings.TrimSpace(r.Username), strings.TrimSpace(r.Password)
		return r, nil
	case TypeLogin:
		var r Login
		if err := decodeData(requestType, raw.Data, &r); err != nil {
			return nil, err
		}
		r.Username, r.Password = strings.TrimSpace(r.Username), strings.TrimSpace(r.Password)
		return r, nil
	case TypeLogout:
		return Logout{}, nil
	case TypePrivateChat:
		var r PrivateChat
		if err := decodeData(requestType, raw.Data, &r); err != nil {
			return nil, err
		}
		r.To, r.Message = strings.TrimSpace(r.To), strings.TrimSpace(r.Message)
		return r, nil
	case TypeGroupChat:
		var r GroupChat
		if err := decodeData(requestType, raw.Data, &r); err != nil {
			return nil, err
		}
		r.Group, r.Message = strings.TrimSpace(r.Group), strings.TrimSpace(r.Message)
		return r, nil
	case TypeCreateGroup:
		var r CreateGroup
		if err := decodeData(requestType, raw.Data, &r); err != nil {
			return nil, err
		}
		r.GroupName = strings.TrimSpace(r.GroupName)
		return r, nil
	case TypeJoinGroup:
		var r JoinGroup
		if err := decodeData(requestType, raw.Data, &r); err != nil {
			return nil, err
		}
		r.GroupName = strings.TrimSpace(r.GroupName)
		return r, nil
	case TypeListGroups:
		return ListGroups{}, nil
	default:
		return Unknown{Type: requestType}, nil
	}
}

func decodeData(requestType string, data json.RawMessage, dst any) error {
	if len(data) == 0 || isNull(data) {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &FieldError{RequestType: requestType, Field: typeErr.Field, Err: err}
		}
		return &FieldError{RequestType: requestType, Err: err}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
