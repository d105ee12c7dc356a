package extract

import "strings"

const utf8BOM = "\ufeff"

// extractPlain decodes text files. A leading byte order mark is dropped, line endings
// become "\n" and invalid UTF-8 is replaced with U+FFFD.
func extractPlain(content []byte) string {
	text := strings.ToValidUTF8(string(content), "\ufffd")
	text = strings.TrimPrefix(text, utf8BOM)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
