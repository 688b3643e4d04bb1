package utils

import (
	"fmt"
	"strings"
	"time"
)

// Number formats large numbers with commas for readability.
// For example: 1234567 becomes "1,234,567"
func Number(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []string
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ",")
		}
		result = append(result, string(digit))
	}
	return strings.Join(result, "")
}

// Bytes formats byte counts with binary unit suffixes.
// Examples: 512 -> "512B", 2048 -> "2.0KiB", 5242880 -> "5.0MiB"
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGT"[exp])
}

// Duration formats time duration in human-readable form.
// Examples:
//   - Less than 1 second: "0s"
//   - Less than 1 minute: "5.2s"
//   - Less than 1 hour: "3m5.2s"
//   - 1 hour or more: "2h15m"
func Duration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := d.Seconds() - float64(minutes*60)
		return fmt.Sprintf("%dm%.1fs", minutes, seconds)
	} else {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
}

// FlagString renders the semantic block table flag bits as a compact
// letter code for listings: C compressed, I imploded, E encrypted,
// K fix-key, P patch, U single unit, D deleted, S sector checksums.
func FlagString(flags uint32) string {
	bits := []struct {
		mask uint32
		ch   byte
	}{
		{0x00000200, 'C'},
		{0x00000100, 'I'},
		{0x00010000, 'E'},
		{0x00020000, 'K'},
		{0x00100000, 'P'},
		{0x01000000, 'U'},
		{0x02000000, 'D'},
		{0x04000000, 'S'},
	}

	var b strings.Builder
	for _, bit := range bits {
		if flags&bit.mask != 0 {
			b.WriteByte(bit.ch)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
