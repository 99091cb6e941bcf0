package linebridge

// webhookEnvelope is the LINE webhook request body.
type webhookEnvelope struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one LINE webhook event. Only message events with text
// messages are processed; everything else is skipped.
type Event struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"`
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"message"`
}

// textEvent reports whether the event carries user text worth replying to.
func (e Event) textEvent() bool {
	return e.Type == "message" && e.Message.Type == "text" && e.Message.Text != ""
}
