package node

import (
	"errors"
	"testing"
)

func TestDecode_WellFormed(t *testing.T) {
	tests := []struct {
		name string
		line string
		want SensorReading
	}{
		{
			name: "sprinkler off",
			line: `{"temp": 22.5, "humidity": 60, "sprinkler": false}`,
			want: SensorReading{Temperature: 22.5, Humidity: 60, SprinklerOn: false},
		},
		{
			name: "sprinkler on",
			line: `{"temp": -3.25, "humidity": 99.9, "sprinkler": true}`,
			want: SensorReading{Temperature: -3.25, Humidity: 99.9, SprinklerOn: true},
		},
		{
			name: "extra keys ignored",
			line: `{"temp": 18, "humidity": 40, "sprinkler": true, "rssi": -71}`,
			want: SensorReading{Temperature: 18, Humidity: 40, SprinklerOn: true},
		},
		{
			name: "key order irrelevant",
			line: `{"sprinkler":false,"humidity":55.5,"temp":30.1}`,
			want: SensorReading{Temperature: 30.1, Humidity: 55.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "not json", line: "hello node"},
		{name: "truncated", line: `{"temp": 22.5, "humidity": 60`},
		{name: "missing temp", line: `{"humidity": 60, "sprinkler": false}`},
		{name: "missing humidity", line: `{"temp": 22.5, "sprinkler": false}`},
		{name: "missing sprinkler", line: `{"temp": 22.5, "humidity": 60}`},
		{name: "null temp", line: `{"temp": null, "humidity": 60, "sprinkler": false}`},
		{name: "string temp", line: `{"temp": "hot", "humidity": 60, "sprinkler": false}`},
		{name: "numeric sprinkler", line: `{"temp": 1, "humidity": 2, "sprinkler": 1}`},
		{name: "array", line: `[22.5, 60, false]`},
		{name: "empty object", line: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.line)
			if err == nil {
				t.Fatalf("Decode(%q) error = nil, want DecodeError", tt.line)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q) error type = %T, want *DecodeError", tt.line, err)
			}
			if de.Line != tt.line {
				t.Errorf("DecodeError.Line = %q, want %q", de.Line, tt.line)
			}
		})
	}
}

func TestDirectiveFor(t *testing.T) {
	tests := []struct {
		in     string
		want   Directive
		wantOK bool
	}{
		{in: "1", want: SprinklerOn, wantOK: true},
		{in: "0", want: SprinklerOff, wantOK: true},
		{in: "", wantOK: false},
		{in: "2", wantOK: false},
		{in: " 1", wantOK: false},
		{in: "on", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := DirectiveFor(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("DirectiveFor(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
