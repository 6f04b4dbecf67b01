package app

import (
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/cloudzz-dev/periskope/internal/chat"
)

const (
	dayLayout  = "02 Jan 2006"
	timeLayout = "15:04"
)

// threadItem is either a day separator or a message.
type threadItem struct {
	day     string
	message *chat.Message
}

// groupByDay interleaves day separators with msgs: one before the first
// message and one wherever the calendar date in loc changes.
func groupByDay(msgs []chat.Message, loc *time.Location) []threadItem {
	var (
		items []threadItem
		last  string
	)
	for i := range msgs {
		day := msgs[i].CreatedAt.In(loc).Format(dayLayout)
		if i == 0 || day != last {
			items = append(items, threadItem{day: day})
			last = day
		}
		items = append(items, threadItem{message: &msgs[i]})
	}
	return items
}

// messageBody is what a bubble shows for msg.
func messageBody(msg chat.Message) string {
	switch msg.Kind() {
	case chat.KindText:
		return *msg.Content
	case chat.KindAttachment:
		url := *msg.FileURL
		var fileType string
		if msg.FileType != nil {
			fileType = *msg.FileType
		}
		switch {
		case strings.HasPrefix(fileType, "image/"):
			return "[image] " + url
		case strings.HasPrefix(fileType, "video/"):
			return "[video] " + url
		default:
			return ansi.SetHyperlink(url) + "View Attachment" + ansi.ResetHyperlink()
		}
	}
	return ""
}
