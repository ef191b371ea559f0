package connection

import (
	"encoding/json"
	"strconv"
	"time"
)

// pending is an authorization started for a user and not yet completed.
type pending struct {
	State    string
	Secret   string
	Redirect string
	Expires  int64
}

func pendingKey(userID int) string {
	return "authorize:" + strconv.Itoa(userID)
}

func parsePending(v interface{}) (pending, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return pending{}, false
	}
	p := pending{
		State:    stringValue(m["state"]),
		Secret:   stringValue(m["secret"]),
		Redirect: stringValue(m["redirect"]),
		Expires:  int64(intValue(m["exp"])),
	}
	return p, p.State != ""
}

func (p pending) expired(now time.Time) bool {
	return now.Unix() >= p.Expires
}

func (p pending) options() map[string]interface{} {
	return map[string]interface{}{
		"state":    p.State,
		"secret":   p.Secret,
		"redirect": p.Redirect,
		"exp":      p.Expires,
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// intValue reads numbers stored either by this package or decoded from JSON.
func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

// mapValue returns v as a map, or a new empty map.
func mapValue(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}
