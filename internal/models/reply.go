package models

// Reply is the content handed to a transport: either PlainText or ChoiceMenu.
// Transports decide how a ChoiceMenu is rendered.
type Reply interface {
	isReply()
}

// PlainText is a plain chat message.
type PlainText struct {
	Text string `json:"text"`
}

// ChoiceMenu is a titled prompt with selectable options. Selecting an option
// sends its label back as a normal message.
type ChoiceMenu struct {
	Title   string   `json:"title"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

func (PlainText) isReply()  {}
func (ChoiceMenu) isReply() {}

// Text builds a PlainText reply.
func Text(s string) Reply {
	return PlainText{Text: s}
}
