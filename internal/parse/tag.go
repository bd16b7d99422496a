package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	controlRe   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	separatorRe = regexp.MustCompile(`[\s:\-.]+`)
	prefixRe    = regexp.MustCompile(`(?i)^(?:rfid|tag|uid)\s*[:=]\s*`)
	tagRe       = regexp.MustCompile(`^[0-9A-F]+$`)
)

// TagID normalizes a tag identifier as reported by a reader so the same
// physical tag always yields the same string.
func TagID(raw string, minLength int) (string, error) {
	// 0) 读卡器常带 STX/ETX 之类的控制字符
	s := controlRe.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)

	// 1) 去掉 "RFID:" 之类的前缀
	s = prefixRe.ReplaceAllString(s, "")

	// 2) 0x 前缀
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}

	// 3) 去掉分隔符 "04:A3:2B" / "04-a3-2b" / "04 a3 2b"
	s = separatorRe.ReplaceAllString(s, "")
	s = strings.ToUpper(s)

	if s == "" {
		return "", fmt.Errorf("empty tag id: %q", raw)
	}
	if !tagRe.MatchString(s) {
		return "", fmt.Errorf("tag id is not hexadecimal: %q", raw)
	}
	if len(s) < minLength {
		return "", fmt.Errorf("tag id %q shorter than %d characters", raw, minLength)
	}
	return s, nil
}
