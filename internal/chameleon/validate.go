package chameleon

import (
	"strings"

	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/transform/mapping"
)

// DefaultPageName is used for page events without a name.
const DefaultPageName = "Page Viewed"

func accountSecret(dest event.Destination) (string, error) {
	secret, ok := dest.ConfigString("accountSecret")
	if !ok || strings.TrimSpace(secret) == "" {
		return "", ConfigurationError("Account secret is required")
	}
	return secret, nil
}

func validateIdentify(p mapping.Payload, msg event.Event) error {
	if p.Present("uid") {
		return nil
	}
	if anon, ok := msg["anonymousId"]; ok && anon != nil && anon != "" {
		return nil
	}
	return InstrumentationError("Either userId or anonymousId is required for identify events")
}

func validateTrack(p mapping.Payload, _ event.Event) error {
	if !p.NonBlank("name") {
		return InstrumentationError("Event name is required for track events")
	}
	return nil
}

func validateGroup(p mapping.Payload, _ event.Event) error {
	if !p.NonBlank("uid") {
		return InstrumentationError("Group ID (groupId) is required for group events")
	}
	return nil
}

func defaultPageName(p mapping.Payload) {
	if !p.NonBlank("name") {
		p["name"] = DefaultPageName
	}
}
