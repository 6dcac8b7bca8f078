package notification

import (
	"bytes"
	"encoding/json"

	"github.com/antonholmquist/jason"
)

// Payload is the optional JSON body of a push message.
type Payload struct {
	Title      string
	Body       string
	PrimaryKey any
}

// ParsePayload reads what it can from a push body. An empty or unparsable
// body, or one that is not a JSON object, yields an empty Payload. Fields
// of the wrong type are ignored.
func ParsePayload(data []byte) Payload {
	var p Payload
	if len(bytes.TrimSpace(data)) == 0 {
		return p
	}
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return p
	}
	if s, err := obj.GetString("title"); err == nil {
		p.Title = s
	}
	if s, err := obj.GetString("body"); err == nil {
		p.Body = s
	}
	if v, err := obj.GetValue("primaryKey"); err == nil {
		if raw, err := v.Marshal(); err == nil {
			var key any
			if json.Unmarshal(raw, &key) == nil {
				p.PrimaryKey = key
			}
		}
	}
	return p
}
