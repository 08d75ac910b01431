package mqtt

import "strings"

// topics builds every topic the bridge touches under one prefix.
type topics struct {
	prefix string
}

func (t topics) daemonStatus() string {
	return t.prefix + "/daemon/status"
}

func (t topics) deviceStatus(serial string) string {
	return t.prefix + "/" + serial + "/status"
}

func (t topics) deviceState(serial, path string) string {
	return t.prefix + "/" + serial + "/state/" + path
}

// setWildcard matches every device's set topics. Field paths are
// dotted, so a path always fits in a single topic level.
func (t topics) setWildcard() string {
	return t.prefix + "/+/set/+"
}

// parseSet extracts the serial and field path from a set topic.
func (t topics) parseSet(topic string) (serial, path string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
