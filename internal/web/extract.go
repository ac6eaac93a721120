package web

import (
	"strings"

	"github.com/fernhollow/airnode/internal/endpoint"
)

// marker introduces the bus-endpoint query value in a request target.
const marker = "/?mq="

// ExtractBusEndpoint pulls the raw endpoint value out of an HTTP
// request target (or full request line). It scans forward from just
// past the "/?mq=" marker, copying bytes until a space or '&' or the
// endpoint length cap, whichever comes first.
//
// No URL decoding is performed: bytes are taken literally, so
// addresses containing reserved characters cannot be set through this
// interface.
func ExtractBusEndpoint(target string) (string, bool) {
	i := strings.Index(target, marker)
	if i < 0 {
		return "", false
	}

	rest := target[i+len(marker):]
	end := len(rest)
	if end > endpoint.MaxLen {
		end = endpoint.MaxLen
	}
	for j := 0; j < end; j++ {
		if rest[j] == ' ' || rest[j] == '&' {
			end = j
			break
		}
	}

	if end == 0 {
		return "", false
	}
	return rest[:end], true
}
