package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func routeAttr(route string) attribute.KeyValue {
	return attribute.String("route", route)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(status))
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}

func codeAttr(code string) attribute.KeyValue {
	return attribute.String("code", code)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String("stage", stage)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String("backend", backend)
}
