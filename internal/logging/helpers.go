package logging

import (
	"net/http"
	"strings"
)

func hideSecret(s string) string {
	if len(s) > 8 {
		return s[:4] + "..." + s[len(s)-4:]
	} else if len(s) > 4 {
		return s[:2] + "..." + s[len(s)-2:]
	} else if len(s) > 2 {
		return s[:1] + "..." + s[len(s)-1:]
	}
	return s
}

func maskAuthorizationHeader(value string) string {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) < 2 {
		return hideSecret(value)
	}
	return parts[0] + " " + hideSecret(parts[1])
}

// MaskHeaderValue masks credential-bearing header values for logging.
func MaskHeaderValue(key, value string) string {
	lowerKey := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.Contains(lowerKey, "authorization"):
		return maskAuthorizationHeader(value)
	case strings.Contains(lowerKey, "api-key"),
		strings.Contains(lowerKey, "apikey"),
		strings.Contains(lowerKey, "token"),
		strings.Contains(lowerKey, "secret"):
		return hideSecret(value)
	default:
		return value
	}
}

// MaskHeaders returns a flattened, masked copy of h suitable for log fields.
func MaskHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		out[k] = MaskHeaderValue(k, vs[0])
	}
	return out
}
