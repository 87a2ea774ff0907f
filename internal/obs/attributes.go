package obs

import "go.opentelemetry.io/otel/attribute"

// Metric attributes shared by every proxy instrument.
var (
	// AttrProfile identifies the routing profile that served the request.
	AttrProfile = attribute.Key("proxy.profile")

	// AttrAPIFormat identifies the upstream dialect ("openai", "anthropic", ...).
	AttrAPIFormat = attribute.Key("proxy.api_format")

	// AttrModel identifies the requested model.
	AttrModel = attribute.Key("proxy.model")

	// AttrStatus indicates the request outcome (success, error, canceled).
	AttrStatus = attribute.Key("proxy.status")

	// AttrStreamed indicates whether the request was streaming.
	AttrStreamed = attribute.Key("proxy.streamed")

	// AttrErrorType carries the error label when status is error.
	AttrErrorType = attribute.Key("proxy.error_type")
)
