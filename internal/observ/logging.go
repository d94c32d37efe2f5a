package observ

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// RedactURL strips credential-bearing query parameters from an endpoint
// before it is logged. Gateway call logs must never carry API keys.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, k := range []string{"apikey", "api_key", "api_token", "token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RedactToken keeps just enough of a secret to correlate log lines.
func RedactToken(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 8 {
		return "REDACTED"
	}
	return tok[:4] + "...REDACTED"
}
