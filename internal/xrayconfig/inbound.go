package xrayconfig

import (
	"strings"
)

// PortInfo describes one listening inbound of a running engine.
type PortInfo struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Tag      string `json:"tag,omitempty"`
}

// ProtocolUnknown is reported when neither the tag nor the inbound's protocol
// field identify it.
const ProtocolUnknown = "unknown"

type tagRule struct {
	substr   string
	protocol string
}

// Evaluated top to bottom; "ss" must stay after everything it is a substring
// of.
var tagRules = []tagRule{
	{"socks", "socks"},
	{"http", "http"},
	{"trojan", "trojan"},
	{"vless", "vless"},
	{"vmess", "vmess"},
	{"shadowsocks", "shadowsocks"},
	{"ss", "shadowsocks"},
}

// Inbounds lists every inbound that declares a port.
func Inbounds(doc Document) []PortInfo {
	var out []PortInfo
	for _, item := range doc.inbounds() {
		inbound, ok := item.(map[string]any)
		if !ok {
			continue
		}
		port, ok := intValue(inbound["port"])
		if !ok {
			continue
		}
		out = append(out, PortInfo{
			Port:     port,
			Protocol: classify(inbound),
			Tag:      tagOf(inbound),
		})
	}
	return out
}

func classify(inbound map[string]any) string {
	tag := strings.ToLower(tagOf(inbound))
	if tag != "" {
		for _, r := range tagRules {
			if strings.Contains(tag, r.substr) {
				return r.protocol
			}
		}
	}
	if p, ok := inbound["protocol"].(string); ok && p != "" {
		return p
	}
	return ProtocolUnknown
}
