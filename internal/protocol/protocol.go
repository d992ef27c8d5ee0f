// Package protocol defines the line-oriented wire protocol spoken over the
// bridge's TCP sessions: the inbound prefix table, key/value framing, and
// the base64 codec used for embedded XML documents. One constant per wire
// token; handlers live with the session and manikin code.
package protocol

import (
	"encoding/base64"
	"strings"

	"github.com/amm-sim/tcp-bridge/internal/debug"
)

// Inbound line prefixes, first match wins.
const (
	PrefixKeepAlive    = "[KEEPALIVE]"
	PrefixModuleName   = "MODULE_NAME="
	PrefixRegister     = "REGISTER="
	PrefixKick         = "KICK="
	PrefixStatus       = "STATUS="
	PrefixCapability   = "CAPABILITY="
	PrefixSettings     = "SETTINGS="
	PrefixKeepHistory  = "KEEP_HISTORY="
	PrefixRequest      = "REQUEST="
	PrefixAction       = "ACT="
	PrefixGenericTopic = "["
	PrefixConfig       = "CONFIG="
)

// System command tokens carried inside [SYS] bus commands.
const (
	SysPrefix          = "[SYS]"
	LoadScenarioPrefix = "LOAD_SCENARIO:"
	LoadStatePrefix    = "LOAD_STATE:"
)

// HaltingError is the status-payload substring that marks a module
// inoperative.
const HaltingError = "HALTING_ERROR"

// ModuleConnected is a legacy greeting some clients send; ignored.
const ModuleConnected = "Module Connected"

// ClientsCSVHeader heads the REQUEST=CLIENTS response table.
const ClientsCSVHeader = "client_id,client_name,learner_name,client_connection,client_type,role,client_status,connect_time\n"

// ParseKVP splits a semicolon-separated k=v list into a map. Keys are
// trimmed and lowercased; values are trimmed. Tokens without '=' are
// logged and skipped; the rest of the message still parses.
func ParseKVP(s string) map[string]string {
	kvp := make(map[string]string)
	for _, token := range strings.Split(s, ";") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		sep := strings.Index(token, "=")
		if sep < 0 {
			debug.Warnf("malformed token in message: %q", token)
			continue
		}
		key := strings.ToLower(strings.TrimSpace(token[:sep]))
		value := strings.TrimSpace(token[sep+1:])
		kvp[key] = value
	}
	return kvp
}

// ExtractToken returns the value following "<key>=" up to the next ';',
// or "" when the key is absent. Used for mid=, type=, and service=
// extraction from raw command strings.
func ExtractToken(s, key string) string {
	pos := strings.Index(s, key+"=")
	if pos < 0 {
		return ""
	}
	rest := s[pos+len(key)+1:]
	if end := strings.IndexByte(rest, ';'); end >= 0 {
		return rest[:end]
	}
	return rest
}

// ExtractManikinID pulls the mid= selector out of a message, falling back
// to def when absent.
func ExtractManikinID(s, def string) string {
	if mid := ExtractToken(s, "mid"); mid != "" {
		return mid
	}
	return def
}

// ExtractTypeAttr best-effort extracts the XML type attribute from a
// modification payload, accepting either quote style.
func ExtractTypeAttr(payload string) string {
	for _, marker := range []string{`type="`, `type='`} {
		pos := strings.Index(payload, marker)
		if pos < 0 {
			continue
		}
		rest := payload[pos+len(marker):]
		if end := strings.IndexByte(rest, marker[len(marker)-1]); end >= 0 {
			return rest[:end]
		}
	}
	return ""
}

// SplitTopicLine splits "[Topic]body" into its parts. ok is false when
// the closing bracket is missing.
func SplitTopicLine(line string) (topic, body string, ok bool) {
	if !strings.HasPrefix(line, "[") {
		return "", "", false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return "", "", false
	}
	return line[1:end], line[end+1:], true
}

// Encode64 encodes payloads embedded in protocol lines.
func Encode64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode64 decodes a base64 payload from a protocol line.
func Decode64(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
