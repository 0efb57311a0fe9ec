package vault

// MaskToken renders a token safe for logs, keeping at most the first five and
// last three characters. Tokens of eight characters or fewer are fully
// redacted because any visible part would give too much away.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	front := (len(token) - 4) / 2
	if front > 5 {
		front = 5
	}
	back := (len(token) - 4) / 2
	if back > 3 {
		back = 3
	}
	return token[:front] + "..." + token[len(token)-back:]
}
