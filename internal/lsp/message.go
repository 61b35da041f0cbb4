package lsp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one decoded protocol unit: *Notification, *Request or *Response.
type Message interface {
	isMessage()
}

// Notification is a message with a method and no id.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Request is a server-initiated call awaiting a response from the client.
type Request struct {
	ID     uint64
	Method string
	Params json.RawMessage
}

// Response answers the request carrying the same ID.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *ResponseError
}

func (*Notification) isMessage() {}
func (*Request) isMessage()      {}
func (*Response) isMessage()     {}

var jsonNull = []byte("null")

// DecodeMessage classifies a frame body. Bodies with both an id and a method
// are requests, bodies with only an id are responses and everything else
// must carry a method and is a notification.
func DecodeMessage(body []byte) (Message, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("invalid message body: %w", err)
	}
	if obj == nil {
		return nil, errors.New("invalid message body: not an object")
	}

	rawID, hasID := obj["id"]
	rawMethod, hasMethod := obj["method"]

	switch {
	case hasID && hasMethod:
		id, err := decodeID(rawID)
		if err != nil {
			return nil, err
		}
		method, err := decodeMethod(rawMethod)
		if err != nil {
			return nil, err
		}
		return &Request{ID: id, Method: method, Params: obj["params"]}, nil

	case hasID:
		id, err := decodeID(rawID)
		if err != nil {
			return nil, err
		}
		resp := &Response{ID: id, Result: obj["result"]}
		if rawErr, ok := obj["error"]; ok && !bytes.Equal(rawErr, jsonNull) {
			respErr, err := decodeResponseError(rawErr)
			if err != nil {
				return nil, fmt.Errorf("invalid error object in response %d: %w", id, err)
			}
			resp.Error = respErr
		}
		return resp, nil

	case hasMethod:
		method, err := decodeMethod(rawMethod)
		if err != nil {
			return nil, err
		}
		return &Notification{Method: method, Params: obj["params"]}, nil

	default:
		return nil, errors.New("invalid message body: neither id nor method present")
	}
}

func decodeID(raw json.RawMessage) (uint64, error) {
	var id uint64
	if err := strictUnmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("invalid message id %s: %w", raw, err)
	}
	return id, nil
}

func decodeMethod(raw json.RawMessage) (string, error) {
	var method string
	if err := strictUnmarshal(raw, &method); err != nil {
		return "", fmt.Errorf("invalid message method %s: %w", raw, err)
	}
	return method, nil
}

// decodeResponseError requires both code and message; encoding/json would
// otherwise leave missing fields zeroed.
func decodeResponseError(raw json.RawMessage) (*ResponseError, error) {
	var fields map[string]json.RawMessage
	if err := strictUnmarshal(raw, &fields); err != nil {
		return nil, err
	}
	rawCode, ok := fields["code"]
	if !ok {
		return nil, errors.New("missing code")
	}
	rawMessage, ok := fields["message"]
	if !ok {
		return nil, errors.New("missing message")
	}

	var respErr ResponseError
	if err := strictUnmarshal(rawCode, &respErr.Code); err != nil {
		return nil, fmt.Errorf("code: %w", err)
	}
	if err := strictUnmarshal(rawMessage, &respErr.Message); err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	if rawData, ok := fields["data"]; ok {
		data := rawData
		respErr.Data = &data
	}
	return &respErr, nil
}

// strictUnmarshal rejects JSON null, which encoding/json would otherwise
// accept as a no-op for non-pointer targets.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return errors.New("unexpected null")
	}
	return json.Unmarshal(raw, v)
}

// decodeParams unmarshals a present payload into v. An absent payload leaves
// v untouched.
func decodeParams(method string, raw json.RawMessage, v any) error {
	if raw == nil || v == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &DecodeError{Method: method, Payload: raw, Err: err}
	}
	return nil
}
