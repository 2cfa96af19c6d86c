package serial

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc16"

	"lora-gateway/internal/utils"
)

// Checked frames look like `{"temp":21.0,...}*4B37`: the payload, a '*', and
// the CRC-16/MODBUS of the payload as four upper-case hex digits.
const frameSep = '*'

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func Checksum(payload []byte) uint16 {
	return crc16.Checksum(payload, modbusTable)
}

// Frame appends the checksum suffix to payload.
func Frame(payload string) string {
	return payload + string(frameSep) + utils.Hex4(Checksum([]byte(payload)))
}

// Unframe verifies and strips the checksum suffix.
func Unframe(line string) (string, error) {
	i := strings.LastIndexByte(line, frameSep)
	if i < 0 || len(line)-i-1 != 4 {
		return "", &FrameError{Line: line, Reason: "missing checksum suffix"}
	}
	payload, sum := line[:i], line[i+1:]
	got, err := strconv.ParseUint(sum, 16, 16)
	if err != nil {
		return "", &FrameError{Line: line, Reason: fmt.Sprintf("malformed checksum %q", sum)}
	}
	want := Checksum([]byte(payload))
	if uint16(got) != want {
		return "", &FrameError{
			Line:   line,
			Reason: fmt.Sprintf("checksum mismatch: got %s want %s", utils.Hex4(uint16(got)), utils.Hex4(want)),
		}
	}
	return payload, nil
}
