package book

import (
	"strings"

	"github.com/tidwall/gjson"
)

const maxDetailLen = 120

// ErrorDetail pulls a human-readable reason out of an error response body.
//
// The book API reports failures as {"detail": "..."}; validation failures
// carry a list of objects with a "msg" field instead. Anything else falls back
// to the trimmed body, truncated so failure reasons stay short.
func ErrorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	if gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		switch {
		case detail.IsArray():
			if msg := detail.Get("0.msg"); msg.Exists() {
				return truncate(msg.String())
			}
		case detail.Exists():
			return truncate(detail.String())
		}
		if msg := gjson.GetBytes(body, "error"); msg.Exists() {
			return truncate(msg.String())
		}
	}

	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	return s[:maxDetailLen] + "..."
}
