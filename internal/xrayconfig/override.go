package xrayconfig

import (
	"strings"
)

// ApplyPortOverrides rewrites inbound ports by tag. An inbound whose tag
// contains "socks" (case-insensitive) gets socksPort, otherwise one whose tag
// contains "http" gets httpPort. A zero port means no override.
//
// doc itself is returned when there is nothing to override; otherwise the
// result is a deep copy.
func ApplyPortOverrides(doc Document, socksPort, httpPort int) Document {
	if socksPort == 0 && httpPort == 0 {
		return doc
	}
	if len(doc.inbounds()) == 0 {
		return doc
	}

	out := doc.Clone()
	for _, item := range out.inbounds() {
		inbound, ok := item.(map[string]any)
		if !ok {
			continue
		}
		tag := strings.ToLower(tagOf(inbound))
		switch {
		case socksPort != 0 && strings.Contains(tag, "socks"):
			inbound["port"] = socksPort
		case httpPort != 0 && strings.Contains(tag, "http"):
			inbound["port"] = httpPort
		}
	}
	return out
}

// ApplyLogLevel sets log.loglevel, creating the log section if needed. An
// empty level returns doc unchanged.
func ApplyLogLevel(doc Document, level string) Document {
	if level == "" {
		return doc
	}

	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	section, ok := out["log"].(map[string]any)
	if !ok {
		section = make(map[string]any)
		out["log"] = section
	}
	section["loglevel"] = level
	return out
}

// LogLevel returns the configured log level, or "" if unset.
func LogLevel(doc Document) string {
	section, _ := doc["log"].(map[string]any)
	level, _ := section["loglevel"].(string)
	return level
}

// HasInboundTagged reports whether any inbound tag contains substr
// (case-insensitive).
func HasInboundTagged(doc Document, substr string) bool {
	substr = strings.ToLower(substr)
	for _, item := range doc.inbounds() {
		inbound, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(tagOf(inbound)), substr) {
			return true
		}
	}
	return false
}

func tagOf(inbound map[string]any) string {
	tag, _ := inbound["tag"].(string)
	return tag
}
