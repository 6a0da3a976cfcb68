package telegram

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"

	"tg_gatekeeper_bot/internal/domain"
)

// htmlEscaper escapes the three characters Telegram's HTML parse mode
// reserves. Ampersand must be replaced first; Replacer walks the input once,
// which guarantees that.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Sanitize makes free text safe for HTML parse mode.
func Sanitize(text string) string {
	return htmlEscaper.Replace(text)
}

// Ordinal renders n with its English ordinal suffix (1st, 2nd, 3rd, 4th,
// 11th, 21st, ...).
func Ordinal(n int) string {
	suffix := "th"
	if n/10%10 != 1 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}

	return fmt.Sprintf("%d%s", n, suffix)
}

// mentions returns the @username mentions of a message in order, as typed.
func mentions(msg *models.Message) []string {
	if msg == nil {
		return nil
	}

	var handles []string
	for _, entity := range msg.Entities {
		if entity.Type != models.MessageEntityTypeMention {
			continue
		}
		if handle := entityText(msg.Text, entity); handle != "" {
			handles = append(handles, handle)
		}
	}

	return handles
}

// entityText slices the entity out of the message text. Entity offsets and
// lengths count UTF-16 code units, not bytes or runes.
func entityText(text string, entity models.MessageEntity) string {
	units := utf16.Encode([]rune(text))

	start := entity.Offset
	end := entity.Offset + entity.Length
	if start < 0 || end > len(units) || start >= end {
		return ""
	}

	return string(utf16.Decode(units[start:end]))
}

func waitingRoomWelcome(firstName, rulesURL string) string {
	return fmt.Sprintf(
		"Hi %s! An admin will be with you shortly to get you in the main chat.\n\nIn the mean time, please read <a href=%q>the rules</a> and let us know whether you agree.",
		Sanitize(firstName), rulesURL,
	)
}

func mainGroupWelcome(user models.User) string {
	return fmt.Sprintf("Everyone welcome <a href=\"tg://user?id=%d\">%s</a> to the chat!", user.ID, Sanitize(user.FirstName))
}

func meetDatesBody(events []domain.Event) string {
	lines := []string{"⭐ <b><u>Upcoming meet dates</u></b> ⭐"}
	for _, event := range events {
		line := fmt.Sprintf("➡️ %s %s", event.Begin.Month().String(), Ordinal(event.Begin.Day()))
		if event.Description != "" {
			line += " " + Sanitize(event.Description)
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func declineReasonText(reason domain.DeclineReason) string {
	switch reason {
	case domain.DeclineWrongChat:
		return "requested to join chat other than main group"
	case domain.DeclineUnapproved:
		return "they were not approved"
	case domain.DeclineTokenMismatch:
		return "their invite link does not match the one issued"
	default:
		return reason.String()
	}
}
