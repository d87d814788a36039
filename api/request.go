package api

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// looseText reads any JSON value into a text field. Numbers and booleans keep
// their literal text; null, objects and arrays read as empty so the field
// fails its required rule instead of the whole body being rejected.
type looseText string

func (t *looseText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*t = ""
		return nil
	}
	switch b[0] {
	case 'n', '{', '[':
		*t = ""
	case '"':
		var s string
		if err := sonic.ConfigStd.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = looseText(s)
	default:
		*t = looseText(b)
	}
	return nil
}

// refID reads a reference id sent as a number or a numeric string. Absent,
// null and empty values are 0. Anything else that is not a positive integer
// becomes -1, which fails the existence rule.
type refID int64

func (r *refID) UnmarshalJSON(b []byte) error {
	var text looseText
	if err := text.UnmarshalJSON(b); err != nil {
		return err
	}
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*r = 0
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		*r = -1
		return nil
	}
	*r = refID(id)
	return nil
}
