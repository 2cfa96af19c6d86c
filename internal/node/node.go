// Package node models the messages exchanged with the LoRa sensor node:
// JSON readings coming up the radio link and directives going down.
package node

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SensorReading is one decoded report from the field node.
type SensorReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	SprinklerOn bool    `json:"sprinkler_on"`
}

// DecodeError reports a line that is not a well-formed reading.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode reading %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wire format: {"temp": 22.5, "humidity": 60, "sprinkler": false}
type wireReading struct {
	Temp      *float64 `json:"temp"`
	Humidity  *float64 `json:"humidity"`
	Sprinkler *bool    `json:"sprinkler"`
}

// Decode parses a single line from the radio link. All three keys are
// required; unknown keys are ignored.
func Decode(line string) (SensorReading, error) {
	var w wireReading
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return SensorReading{}, &DecodeError{Line: line, Err: err}
	}
	switch {
	case w.Temp == nil:
		return SensorReading{}, &DecodeError{Line: line, Err: errors.New(`missing field "temp"`)}
	case w.Humidity == nil:
		return SensorReading{}, &DecodeError{Line: line, Err: errors.New(`missing field "humidity"`)}
	case w.Sprinkler == nil:
		return SensorReading{}, &DecodeError{Line: line, Err: errors.New(`missing field "sprinkler"`)}
	}
	return SensorReading{
		Temperature: *w.Temp,
		Humidity:    *w.Humidity,
		SprinklerOn: *w.Sprinkler,
	}, nil
}

// Directive is a raw command string understood by the node firmware.
type Directive string

const (
	SprinklerOn  Directive = "SPRINKLER_ON"
	SprinklerOff Directive = "SPRINKLER_OFF"
)

// DirectiveFor maps the cloud command field to a directive. Only "1" and
// "0" are meaningful; every other value means "do nothing".
func DirectiveFor(value string) (Directive, bool) {
	switch value {
	case "1":
		return SprinklerOn, true
	case "0":
		return SprinklerOff, true
	default:
		return "", false
	}
}
