package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Category names a bucket of server messages.
type Category string

// Built-in categories.
const (
	Redirection Category = "redirection"
	Errors      Category = "errors"
	Information Category = "information"
	Successes   Category = "successes"
)

// CategoryMessages is one "server" entry.
type CategoryMessages struct {
	Name     Category
	Messages []string
}

// Payload is the parsed server response:
//
//	{ "server": { "<category>": ["msg", ...], ... }, "responses": [ <any>, ... ] }
//
// Categories keep the order they have in the document.
type Payload struct {
	Categories []CategoryMessages
	Responses  []json.RawMessage
}

// ParsePayload parses raw. A missing or null "server"/"responses" member is
// treated as empty. Repeated category keys keep their first position and the
// last value, like a JSON object decoded into a map would.
func ParsePayload(raw []byte) (*Payload, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &MalformedPayloadError{Reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &MalformedPayloadError{Reason: "top level is not an object"}
	}

	p := &Payload{}

	server := root.Get("server")
	if server.Exists() && server.Type != gjson.Null {
		if !server.IsObject() {
			return nil, &MalformedPayloadError{Reason: `"server" is not an object`}
		}
		index := map[Category]int{}
		var perr error
		server.ForEach(func(key, value gjson.Result) bool {
			name := Category(key.String())
			msgs, err := parseMessages(name, value)
			if err != nil {
				perr = err
				return false
			}
			if i, ok := index[name]; ok {
				p.Categories[i].Messages = msgs
				return true
			}
			index[name] = len(p.Categories)
			p.Categories = append(p.Categories, CategoryMessages{Name: name, Messages: msgs})
			return true
		})
		if perr != nil {
			return nil, perr
		}
	}

	responses := root.Get("responses")
	if responses.Exists() && responses.Type != gjson.Null {
		if !responses.IsArray() {
			return nil, &MalformedPayloadError{Reason: `"responses" is not an array`}
		}
		responses.ForEach(func(_, value gjson.Result) bool {
			p.Responses = append(p.Responses, json.RawMessage(value.Raw))
			return true
		})
	}
	return p, nil
}

func parseMessages(name Category, value gjson.Result) ([]string, error) {
	if !value.IsArray() {
		return nil, &MalformedPayloadError{Reason: fmt.Sprintf("server category %q is not an array", name)}
	}
	var (
		msgs []string
		err  error
	)
	i := 0
	value.ForEach(func(_, item gjson.Result) bool {
		if item.Type != gjson.String {
			err = &MalformedPayloadError{Reason: fmt.Sprintf("server category %q entry %d is not a string", name, i)}
			return false
		}
		msgs = append(msgs, item.Str)
		i++
		return true
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
