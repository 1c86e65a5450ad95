package messaging

import (
	"strings"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// RenderText flattens a reply into a single text message. Menu options are
// bulleted, not numbered, since bare numbers select catalog entries.
func RenderText(reply models.Reply) string {
	switch r := reply.(type) {
	case models.PlainText:
		return r.Text
	case models.ChoiceMenu:
		var b strings.Builder
		if r.Title != "" {
			b.WriteString("*" + r.Title + "*\n\n")
		}
		if r.Prompt != "" {
			b.WriteString(r.Prompt)
			b.WriteString("\n\n")
		}
		for _, opt := range r.Options {
			b.WriteString("• ")
			b.WriteString(opt)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return ""
}
