package digest

import (
	"fmt"
	"strings"
	"time"
)

// NoMessagesText is the whole plain digest when the window has no qualifying messages.
const NoMessagesText = "📭 No messages in the selected range."

func digestHeader(rangeLabel string) string {
	return "🧾 WhatsApp digest — " + RangeLabel(rangeLabel)
}

// RenderPlain renders aggregated buckets in their given order, one bullet per message.
func RenderPlain(buckets []ConversationBucket, rangeLabel string) string {
	if len(buckets) == 0 {
		return NoMessagesText
	}

	var b strings.Builder
	b.WriteString(digestHeader(rangeLabel))
	for _, bucket := range buckets {
		fmt.Fprintf(&b, "\n\n# %s · last %d", bucket.Title, len(bucket.Messages))
		for _, m := range bucket.Messages {
			fmt.Fprintf(&b, "\n• [%s] %s: %s", formatClock(m.TimestampMs), m.Sender, m.Text)
		}
	}
	return b.String()
}

// RenderMerged renders the reduce output. Every list, including each per-chat bullet list, is
// cut to bulletsLimit. A summary section with nothing left is dropped along with its heading;
// a bulletsLimit <= 0 leaves only the header.
func RenderMerged(merged MergedDigest, rangeLabel string, bulletsLimit int) string {
	var b strings.Builder
	b.WriteString(digestHeader(rangeLabel))

	writeSection(&b, "⭐ Top Highlights", limitItems(merged.TopHighlights, bulletsLimit))

	actions := limitItems(merged.ActionItems, bulletsLimit)
	actionLines := make([]string, 0, len(actions))
	for _, a := range actions {
		actionLines = append(actionLines, formatActionItem(a))
	}
	writeSection(&b, "✅ Action Items", actionLines)

	dates := limitItems(merged.UpcomingDates, bulletsLimit)
	dateLines := make([]string, 0, len(dates))
	for _, d := range dates {
		if line := formatDateItem(d); line != "" {
			dateLines = append(dateLines, line)
		}
	}
	writeSection(&b, "🗓️ Dates", dateLines)

	writeSection(&b, "❓ Questions", limitItems(merged.UnresolvedQuestions, bulletsLimit))

	if bulletsLimit <= 0 {
		return b.String()
	}
	// Every per-chat entry keeps its heading, even with no bullets.
	for _, chat := range merged.PerChat {
		title := strings.TrimSpace(chat.Title)
		if title == "" {
			title = "Chat"
		}
		b.WriteString("\n\n# ")
		b.WriteString(title)
		for _, line := range limitItems(chat.Bullets, bulletsLimit) {
			b.WriteString("\n• ")
			b.WriteString(line)
		}
	}
	return b.String()
}

func writeSection(b *strings.Builder, heading string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(heading)
	for _, line := range lines {
		b.WriteString("\n• ")
		b.WriteString(line)
	}
}

func formatActionItem(a ActionItem) string {
	assignee := strings.TrimSpace(a.Assignee)
	if assignee == "" {
		assignee = "Someone"
	}
	line := assignee + ": " + strings.TrimSpace(a.Task)
	if due := strings.TrimSpace(a.Due); due != "" {
		line += " (due " + due + ")"
	}
	return line
}

func formatDateItem(d DateItem) string {
	what := strings.TrimSpace(d.What)
	when := strings.TrimSpace(d.When)
	switch {
	case what != "" && when != "":
		return what + ": " + when
	case what != "":
		return what
	default:
		return when
	}
}

func formatClock(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("15:04")
}

func limitItems[T any](items []T, limit int) []T {
	if limit <= 0 {
		return nil
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
