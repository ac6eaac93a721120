package sensor

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// IIOBus reads measurements from Linux IIO sysfs attribute files
// (/sys/bus/iio/devices/iio:deviceN/in_temp_input and
// in_humidityrelative_input). The kernel driver owns the bus timing;
// from here the protocol is two file reads. Values follow the IIO
// convention: millidegrees Celsius and milli-percent relative
// humidity.
type IIOBus struct {
	TempPath     string
	HumidityPath string
}

// SampleRaw reads both attribute files and scales the values. I/O
// failures map onto the status codes: a file that cannot be opened
// reports CodeConnect (sensor absent or driver unbound), a readout
// that does not parse reports CodeChecksum (corrupt attribute).
func (b *IIOBus) SampleRaw(ctx context.Context) (int, float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, 0, err
	}

	temperature, code := readAttr(b.TempPath)
	if code != CodeOK {
		return code, 0, 0, nil
	}
	humidity, code := readAttr(b.HumidityPath)
	if code != CodeOK {
		return code, 0, 0, nil
	}

	return CodeOK, temperature / 1000, humidity / 1000, nil
}

// readAttr reads one sysfs attribute and parses it as a decimal
// number. Returns the raw (unscaled) value and a status code.
func readAttr(path string) (float64, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, CodeConnect
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, CodeChecksum
	}
	return value, CodeOK
}
